package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// TokenService issues, verifies and revokes bearer tokens against the denylist
type TokenService struct {
	tm       *auth.TokenManager
	denylist TokenRevocationRepository
	logger   *slog.Logger
	now      func() time.Time
}

func NewTokenService(tm *auth.TokenManager, denylist TokenRevocationRepository, logger *slog.Logger) *TokenService {
	return &TokenService{
		tm:       tm,
		denylist: denylist,
		logger:   logger,
		now:      time.Now,
	}
}

// Issue mints a session pair for user
func (s *TokenService) Issue(user *models.User) (*models.SessionPair, error) {
	return s.tm.GenerateSessionPair(user)
}

// IssueMFAChallenge mints the temp token handed out in place of a session
// when the identity has MFA enabled
func (s *TokenService) IssueMFAChallenge(user *models.User) (*models.MFAChallenge, error) {
	token, expiresAt, err := s.tm.GenerateMFAToken(user)
	if err != nil {
		return nil, err
	}
	return &models.MFAChallenge{MFARequired: true, TempToken: token, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, expiry, audience and type, then the denylist
func (s *TokenService) Verify(ctx context.Context, token, tokenType string) (*models.TokenClaims, error) {
	claims, err := s.tm.ValidateToken(token, tokenType)
	if err != nil {
		return nil, err
	}

	revoked, err := s.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}

// IsRevoked reports whether token is on the denylist
func (s *TokenService) IsRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := s.denylist.IsTokenRevoked(ctx, auth.HashToken(token), s.now())
	if err != nil {
		return false, storeFailure(ctx, s.logger, "is_token_revoked", err)
	}
	return revoked, nil
}

// Revoke denylists token until its own expiry. The signature must check out
// but expiry does not, so a token that just expired can still be revoked.
// Revoking twice is a no-op.
func (s *TokenService) Revoke(ctx context.Context, token, reason string) (*models.TokenClaims, error) {
	claims, err := s.tm.DecodeSigned(token)
	if err != nil {
		return nil, err
	}
	if _, err := s.revoke(ctx, token, claims, reason); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *TokenService) revoke(ctx context.Context, token string, claims *models.TokenClaims, reason string) (bool, error) {
	inserted, err := s.denylist.RevokeToken(ctx, models.RevokedToken{
		TokenHash: auth.HashToken(token),
		JTI:       claims.ID,
		UserID:    claims.UserID,
		TokenType: claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    reason,
	})
	if err != nil {
		return false, storeFailure(ctx, s.logger, "revoke_token", err)
	}
	return inserted, nil
}

// consume verifies token and denylists it in one step. Only the first of
// several concurrent callers gets the claims back.
func (s *TokenService) consume(ctx context.Context, token, tokenType, reason string) (*models.TokenClaims, error) {
	claims, err := s.Verify(ctx, token, tokenType)
	if err != nil {
		return nil, err
	}

	inserted, err := s.revoke(ctx, token, claims, reason)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}

// SubjectLoader resolves the identity behind verified session claims and
// refuses identities that may no longer hold a session
type SubjectLoader func(ctx context.Context, claims *models.TokenClaims) (*models.User, error)

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued for the identity load returns, so the role and email come
// from the store rather than the old token. Expired, tampered, revoked or
// already-rotated tokens fail with ErrInvalidToken.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, load SubjectLoader) (*models.SessionPair, *models.User, error) {
	claims, err := s.Verify(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, nil, err
	}

	user, err := load(ctx, claims)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.consume(ctx, refreshToken, models.TokenTypeRefresh, "rotated"); err != nil {
		return nil, nil, err
	}

	pair, err := s.tm.GenerateSessionPair(user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}
