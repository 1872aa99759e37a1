package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLoginExpired is returned when no pending login matches.
var ErrLoginExpired = errors.New("auth: login code invalid or expired")

// TokenStore keeps one-time login secrets and revoked sessions.
type TokenStore interface {
	SaveLogin(ctx context.Context, userID, otp string, otpTTL time.Duration, magic string, magicTTL time.Duration) error
	ConsumeOTP(ctx context.Context, userID, otp string, maxAttempts int) error
	ConsumeMagicLink(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisTokenStore implements TokenStore on Redis. Every secret is consumed
// at most once.
type RedisTokenStore struct {
	rdb redis.Cmdable
}

// NewRedisTokenStore creates a store.
func NewRedisTokenStore(rdb redis.Cmdable) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func otpKey(userID string) string      { return "auth:otp:" + userID }
func attemptsKey(userID string) string { return "auth:otp-attempts:" + userID }
func magicKey(token string) string     { return "auth:magic:" + token }
func revokedKey(jti string) string     { return "auth:revoked:" + jti }

// SaveLogin stores a new OTP and magic link, replacing any pending OTP.
func (s *RedisTokenStore) SaveLogin(ctx context.Context, userID, otp string, otpTTL time.Duration, magic string, magicTTL time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, otpKey(userID), otp, otpTTL)
		p.Del(ctx, attemptsKey(userID))
		p.Set(ctx, magicKey(magic), userID, magicTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("auth: save login: %w", err)
	}
	return nil
}

// ConsumeOTP checks otp against the pending code of userID. The code is
// deleted on success and after maxAttempts wrong guesses.
func (s *RedisTokenStore) ConsumeOTP(ctx context.Context, userID, otp string, maxAttempts int) error {
	want, err := s.rdb.Get(ctx, otpKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrLoginExpired
	}
	if err != nil {
		return fmt.Errorf("auth: read otp: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(otp)) == 1 {
		n, err := s.rdb.Del(ctx, otpKey(userID)).Result()
		if err != nil {
			return fmt.Errorf("auth: consume otp: %w", err)
		}
		if n == 0 {
			return ErrLoginExpired
		}
		s.rdb.Del(ctx, attemptsKey(userID))
		return nil
	}
	attempts, err := s.rdb.Incr(ctx, attemptsKey(userID)).Result()
	if err == nil && attempts == 1 {
		s.rdb.Expire(ctx, attemptsKey(userID), time.Hour)
	}
	if err == nil && attempts >= int64(maxAttempts) {
		s.rdb.Del(ctx, otpKey(userID), attemptsKey(userID))
	}
	return ErrLoginExpired
}

// ConsumeMagicLink returns the user id the token was issued for and
// deletes the token.
func (s *RedisTokenStore) ConsumeMagicLink(ctx context.Context, token string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, magicKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrLoginExpired
	}
	if err != nil {
		return "", fmt.Errorf("auth: consume magic link: %w", err)
	}
	return userID, nil
}

// Revoke denylists a session id until its token would have expired.
func (s *RedisTokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedKey(jti), 1, ttl).Err()
}

// IsRevoked reports whether the session id was revoked.
func (s *RedisTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
