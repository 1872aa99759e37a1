package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// User is an account authenticated by email.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	IsSuperuser     bool       `json:"isSuperuser"`
	EmailVerifiedAt *time.Time `json:"emailVerifiedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserIDForEmail derives the stable user identifier from an email address.
func UserIDForEmail(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}
