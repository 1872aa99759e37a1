// Package auth implements passwordless email login with one-time codes and
// magic links, and the session tokens issued after it.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/logger"
)

// MailSubject is the subject of login emails.
const MailSubject = "Your login to Citro 80."

const mailTemplate = `
Hi!

Your OTP for Citro 80 is:

%s

The code is valid for %d minutes.

---

On the web, you can also use this link:

%s/auth/magic-link/%s

The link will expire in %s.
`

// Session is the result of a successful login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"user"`
}

// Service runs the login flow.
type Service struct {
	cfg       Config
	users     store.Users
	tokens    TokenStore
	queue     jobs.Queue
	issuer    *TokenIssuer
	publicURL string
	log       logger.Logger
}

// NewService wires a Service.
func NewService(cfg Config, publicURL string, users store.Users, tokens TokenStore, queue jobs.Queue, log logger.Logger) (*Service, error) {
	if users == nil || tokens == nil || queue == nil {
		return nil, fmt.Errorf("nil parameter provided")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Service{
		cfg:       cfg,
		users:     users,
		tokens:    tokens,
		queue:     queue,
		issuer:    NewTokenIssuer([]byte(cfg.JWTSecret), cfg.Issuer, cfg.sessionTTL()),
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Login creates the user on first use and mails a fresh code and link.
func (s *Service) Login(ctx context.Context, email string) error {
	user, err := s.users.GetOrCreateUser(ctx, email)
	if err != nil {
		return fmt.Errorf("auth: load user: %w", err)
	}
	otp, err := newOTP()
	if err != nil {
		return err
	}
	magic := uuid.NewString()
	if err := s.tokens.SaveLogin(ctx, user.ID, otp, s.cfg.otpTTL(), magic, s.cfg.magicTTL()); err != nil {
		return err
	}
	payload := jobs.SendEmailPayload{
		To:      user.Email,
		Subject: MailSubject,
		Message: fmt.Sprintf(mailTemplate, otp, s.cfg.OTPTTLMinutes, s.publicURL, magic, humanDuration(s.cfg.magicTTL())),
	}
	if err := s.queue.Enqueue(ctx, jobs.SendEmail, payload); err != nil {
		return fmt.Errorf("auth: enqueue login mail: %w", err)
	}
	s.log.Infow("login requested", map[string]any{"user_id": user.ID})
	return nil
}

// VerifyOTP exchanges a code for a session.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (Session, error) {
	userID := model.UserIDForEmail(email)
	if err := s.tokens.ConsumeOTP(ctx, userID, strings.TrimSpace(otp), s.cfg.MaxOTPAttempts); err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, userID)
}

// VerifyMagicLink exchanges a magic link token for a session.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (Session, error) {
	if _, err := uuid.Parse(token); err != nil {
		return Session{}, ErrLoginExpired
	}
	userID, err := s.tokens.ConsumeMagicLink(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, userID)
}

func (s *Service) startSession(ctx context.Context, userID string) (Session, error) {
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrLoginExpired
		}
		return Session{}, fmt.Errorf("auth: verify email: %w", err)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("auth: load user: %w", err)
	}
	token, claims, err := s.issuer.Issue(user)
	if err != nil {
		return Session{}, err
	}
	s.log.Infow("session issued", map[string]any{"user_id": user.ID, "jti": claims.ID})
	return Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

// Authenticate validates a session token and returns its claims.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: check revocation: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the session until it would have expired.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.tokens.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// User loads the account behind claims.
func (s *Service) User(ctx context.Context, claims *Claims) (model.User, error) {
	return s.users.GetUser(ctx, claims.Subject)
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("auth: generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
