package models

import "time"

// OTPChannel selects one of the two independent one-time code slots on an identity
type OTPChannel string

const (
	OTPChannelEmailVerification OTPChannel = "email_verification"
	OTPChannelPasswordReset     OTPChannel = "password_reset"
)

// CodeFor returns the stored code hash and expiry of a channel
func (u *User) CodeFor(channel OTPChannel) (string, *time.Time) {
	if channel == OTPChannelPasswordReset {
		return u.PasswordResetOTPHash, u.PasswordResetOTPExpiresAt
	}
	return u.OTPCodeHash, u.OTPExpiresAt
}

// OTPStatus is the read-only view of an outstanding email verification code
type OTPStatus struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
