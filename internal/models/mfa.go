package models

// MFAEnrollment is returned by setup. The plaintext secret and backup codes are shown once.
type MFAEnrollment struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"` // PNG data URL
	BackupCodes []string `json:"backup_codes"`
}

// PendingMFA is what setup persists until activation succeeds
type PendingMFA struct {
	SecretEncrypted []byte
	SecretNonce     []byte
	BackupCodes     []string // hashed
}

// MFAStatus reports MFA state for an identity
type MFAStatus struct {
	MFAEnabled           bool `json:"mfa_enabled"`
	PendingActivation    bool `json:"pending_activation"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}
