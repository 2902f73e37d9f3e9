package models

import (
	"time"
)

// AccountStatus is the lifecycle state of an identity
type AccountStatus string

const (
	StatusActive     AccountStatus = "active"
	StatusInactive   AccountStatus = "inactive"
	StatusLocked     AccountStatus = "locked"
	StatusSuspended  AccountStatus = "suspended"
	StatusTerminated AccountStatus = "terminated"
)

// Valid reports whether s is one of the enumerated statuses
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusLocked, StatusSuspended, StatusTerminated:
		return true
	}
	return false
}

const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// IsValidRole checks a role against the enumerated capability tags
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string

	Status          AccountStatus
	StatusReason    string
	StatusChangedAt *time.Time
	StatusChangedBy string // empty for system transitions

	FailedLoginAttempts    int
	FailureWindowStartedAt *time.Time
	LockedUntil            *time.Time // nil while locked means manual unlock only

	EmailVerified                  bool
	OTPCodeHash                    string
	OTPExpiresAt                   *time.Time
	OTPFailedAttempts              int
	PasswordResetOTPHash           string
	PasswordResetOTPExpiresAt      *time.Time
	PasswordResetOTPFailedAttempts int

	MFAEnabled                bool
	MFASecretEncrypted        []byte
	MFASecretNonce            []byte
	MFABackupCodes            []string // SHA-256 hex digests, single use
	MFAPendingSecretEncrypted []byte
	MFAPendingSecretNonce     []byte
	MFAPendingBackupCodes     []string
	MFALastUsedAt             *time.Time
	MFAFailedAttempts         int
	MFAFailureWindowStartedAt *time.Time

	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LockExpired reports whether a temporary lock has run out at now.
// Locks without an expiry never expire on their own.
func (u *User) LockExpired(now time.Time) bool {
	return u.Status == StatusLocked && u.LockedUntil != nil && !u.LockedUntil.After(now)
}

// HasPendingMFA reports whether an enrollment is waiting for activation
func (u *User) HasPendingMFA() bool {
	return len(u.MFAPendingSecretEncrypted) > 0
}

// StatusChange describes a single atomic status write.
// Moving to StatusActive always clears the failure counter and lock expiry.
type StatusChange struct {
	Status      AccountStatus
	Reason      string
	ActorID     string
	LockedUntil *time.Time
	At          time.Time
}

// FailureCount is the durable lockout counter returned by an atomic increment
type FailureCount struct {
	Attempts        int
	WindowStartedAt time.Time
}
