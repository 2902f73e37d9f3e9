package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "warden"

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	mfaTokenExpiry     time.Duration
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager. The secret is process-wide configuration.
func NewTokenManager(secret string, accessExpiry, refreshExpiry, mfaExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		mfaTokenExpiry:     mfaExpiry,
		now:                time.Now,
	}
}

// WithClock replaces the time source, used by tests
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

func audienceFor(tokenType string) string {
	if tokenType == models.TokenTypeMFA {
		return models.AudienceMFAChallenge
	}
	return models.AudienceSession
}

func (tm *TokenManager) expiryFor(tokenType string) time.Duration {
	switch tokenType {
	case models.TokenTypeRefresh:
		return tm.refreshTokenExpiry
	case models.TokenTypeMFA:
		return tm.mfaTokenExpiry
	}
	return tm.accessTokenExpiry
}

// generate signs a token of the given type for user. MFA challenge tokens
// carry no role so they cannot stand in for a session.
func (tm *TokenManager) generate(user *models.User, tokenType string) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.expiryFor(tokenType))

	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{audienceFor(tokenType)},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tokenType != models.TokenTypeMFA {
		claims.Role = user.Role
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return tokenString, expiresAt, nil
}

// GenerateSessionPair mints an access and a refresh token bound to the same subject claims
func (tm *TokenManager) GenerateSessionPair(user *models.User) (*models.SessionPair, error) {
	access, accessExp, err := tm.generate(user, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := tm.generate(user, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	return &models.SessionPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// GenerateMFAToken mints the short-lived challenge token issued between password and second factor
func (tm *TokenManager) GenerateMFAToken(user *models.User) (string, time.Time, error) {
	return tm.generate(user, models.TokenTypeMFA)
}

// ValidateToken verifies signature, expiry, issuer, audience and type.
// Every failure is reported as models.ErrInvalidToken.
func (tm *TokenManager) ValidateToken(tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audienceFor(expectedType)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !token.Valid || claims.Type != expectedType || claims.UserID == "" || claims.ID == "" {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}

// DecodeSigned checks the signature and issuer but skips every time-based
// claim, so an expired token still decodes. Only logout and revocation may
// use it; its output never authorizes anything.
func (tm *TokenManager) DecodeSigned(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if claims.Issuer != tokenIssuer || claims.ExpiresAt == nil || claims.UserID == "" {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}

// HashToken is the denylist key for a raw token
func HashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
