package auth

import (
	"fmt"
	"time"
)

// Config holds session and login settings.
type Config struct {
	JWTSecret           string `json:"jwt_secret"`
	Issuer              string `json:"issuer"`
	SessionTTLHours     int    `json:"session_ttl_hours"`
	CookieName          string `json:"cookie_name"`
	CookieSecure        bool   `json:"cookie_secure"`
	OTPTTLMinutes       int    `json:"otp_ttl_minutes"`
	MagicLinkTTLMinutes int    `json:"magic_link_ttl_minutes"`
	MaxOTPAttempts      int    `json:"max_otp_attempts"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Issuer == "" {
		c.Issuer = "citro80"
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = 24 * 30
	}
	if c.CookieName == "" {
		c.CookieName = "citro80_session"
	}
	if c.OTPTTLMinutes <= 0 {
		c.OTPTTLMinutes = 5
	}
	if c.MagicLinkTTLMinutes <= 0 {
		c.MagicLinkTTLMinutes = 60
	}
	if c.MaxOTPAttempts <= 0 {
		c.MaxOTPAttempts = 5
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("auth: jwt_secret must be at least 32 bytes")
	}
	return nil
}

func (c Config) sessionTTL() time.Duration { return time.Duration(c.SessionTTLHours) * time.Hour }
func (c Config) otpTTL() time.Duration     { return time.Duration(c.OTPTTLMinutes) * time.Minute }
func (c Config) magicTTL() time.Duration   { return time.Duration(c.MagicLinkTTLMinutes) * time.Minute }
