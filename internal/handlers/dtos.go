package handlers

import (
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// Auth DTOs

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=student instructor admin"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest carries the refresh token. The access token comes from the
// Authorization header; either may be missing.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// OTP and password DTOs

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,min=4,max=10,numeric"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,min=4,max=10,numeric"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// MFA DTOs

type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// MFAVerifyLoginRequest accepts a TOTP code or a backup code
type MFAVerifyLoginRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	Code      string `json:"code" validate:"required,max=20"`
}

type MFADisableRequest struct {
	Password string `json:"password" validate:"required"`
}

// Admin DTOs

type StatusActionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UserResponse is the public view of an identity
type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	MFAEnabled    bool       `json:"mfa_enabled"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		LockedUntil:   u.LockedUntil,
		CreatedAt:     u.CreatedAt,
	}
}

// AuditLogResponse represents an audit log entry in HTTP response
type AuditLogResponse struct {
	ID        string         `json:"id"`
	EventKind string         `json:"event_kind"`
	ActorID   *string        `json:"actor_id,omitempty"`
	SubjectID *string        `json:"subject_id,omitempty"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func newAuditLogResponse(l *models.AuditLog) AuditLogResponse {
	return AuditLogResponse{
		ID:        l.ID.String(),
		EventKind: l.EventKind,
		ActorID:   l.ActorID,
		SubjectID: l.SubjectID,
		Success:   l.Success,
		Details:   l.Details,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type AuditTrailResponse struct {
	Logs   []AuditLogResponse `json:"logs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}
