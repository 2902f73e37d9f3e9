package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit event kinds
const (
	AuditEventRegister          = "register"
	AuditEventLoginSuccess      = "login_success"
	AuditEventLoginFailure      = "login_failure"
	AuditEventLoginMFAChallenge = "login_mfa_challenge"
	AuditEventLogout            = "logout"
	AuditEventTokenRefresh      = "token_refresh"
	AuditEventAccountLocked     = "account_locked"
	AuditEventStatusChange      = "status_change"
	AuditEventEmailVerified     = "email_verified"
	AuditEventPasswordReset     = "password_reset"
	AuditEventOTPExhausted      = "otp_attempts_exhausted"
	AuditEventMFASetup          = "mfa_setup"
	AuditEventMFAActivate       = "mfa_activate"
	AuditEventMFAVerify         = "mfa_verify"
	AuditEventMFABackupCodeUsed = "mfa_backup_code_used"
	AuditEventMFADisable        = "mfa_disable"
	AuditEventMFAExhausted      = "mfa_attempts_exhausted"
)

type AuditLog struct {
	ID        uuid.UUID
	EventKind string
	ActorID   *string // nil before a principal is authenticated
	SubjectID *string
	Success   bool
	Details   AuditDetails
	CreatedAt time.Time
}

// AuditDetails holds event context. Never put codes, passwords or tokens here.
type AuditDetails map[string]any

// With returns a copy of d with key set
func (d AuditDetails) With(key string, value any) AuditDetails {
	out := make(AuditDetails, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}

// JSON encodes the details for the jsonb column. A nil map encodes as {}.
func (d AuditDetails) JSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}
