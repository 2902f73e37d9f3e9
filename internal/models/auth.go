package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeMFA     = "mfa"
)

// Token audiences. MFA challenge tokens never share an audience with session tokens.
const (
	AudienceSession      = "session"
	AudienceMFAChallenge = "mfa-challenge"
)

type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionPair is the access + refresh token pair returned by login and refresh
type SessionPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// MFAChallenge is returned instead of a session when the identity has MFA enabled
type MFAChallenge struct {
	MFARequired bool      `json:"mfa_required"`
	TempToken   string    `json:"temp_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LoginResult holds exactly one of Session or Challenge
type LoginResult struct {
	Session   *SessionPair
	Challenge *MFAChallenge
}

// RevokedToken is a denylist entry. A token is revoked while now < ExpiresAt.
type RevokedToken struct {
	TokenHash string
	JTI       string
	UserID    string
	TokenType string
	ExpiresAt time.Time
	Reason    string
}

// RequestMeta carries request context used for audit details
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
