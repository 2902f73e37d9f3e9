package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("resource already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")
	ErrInvalidStatus = errors.New("invalid account status")
	ErrUnavailable   = errors.New("service temporarily unavailable")

	// Authentication errors. Messages never reveal which check failed.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidMFACode     = errors.New("invalid verification code")
	ErrTooManyAttempts    = errors.New("too many failed attempts, try again later")

	// Account state errors
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrAccountSuspended  = errors.New("account is suspended, contact support")
	ErrAccountTerminated = errors.New("account has been terminated")
	ErrAccountInactive   = errors.New("account is inactive, reactivate it to continue")
	ErrEmailNotVerified  = errors.New("email address not verified")

	// OTP errors
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired code")
	ErrTooSoon             = errors.New("please wait before requesting another code")
	ErrAlreadyVerified     = errors.New("email address already verified")

	ErrEmailInUse = errors.New("email address already in use")
)

// AccountLockedError reports a lock together with its expiry.
// Until is nil for locks that need an administrator to lift.
type AccountLockedError struct {
	Until *time.Time
	Now   time.Time
}

func (e *AccountLockedError) Error() string {
	if e.Until == nil {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("%s, try again in %d minutes", ErrAccountLocked.Error(), e.RemainingMinutes())
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// RemainingMinutes rounds the time left on the lock up to whole minutes
func (e *AccountLockedError) RemainingMinutes() int {
	if e.Until == nil {
		return 0
	}
	left := e.Until.Sub(e.Now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}
