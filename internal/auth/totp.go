package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPReplayWindow is how long an accepted code blocks the next one.
// It spans the full ±1 step validation window.
const TOTPReplayWindow = 90 * time.Second

const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

var totpValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPManager handles TOTP generation, encryption, and validation
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
}

// Enrollment is a freshly generated secret, both in plaintext for the user and encrypted for storage
type Enrollment struct {
	Secret          string
	URL             string
	QRCodeDataURL   string
	SecretEncrypted []byte
	Nonce           []byte
}

// NewTOTPManager creates a new TOTP manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateEnrollment creates a new secret for accountName along with its QR code
func (tm *TOTPManager) GenerateEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret:          key.Secret(),
		URL:             key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		SecretEncrypted: encrypted,
		Nonce:           nonce,
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
func (tm *TOTPManager) EncryptSecret(secret []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ValidateCode checks a code against a base32 secret at t, allowing ±1 time step.
// Replay prevention is the caller's job.
func (tm *TOTPManager) ValidateCode(secret, code string, t time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, t, totpValidateOpts)
	return err == nil && valid
}

// GenerateBackupCodes returns count random 8-character codes without ambiguous characters
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	charsetLen := big.NewInt(int64(len(backupCodeCharset)))

	codes := make([]string, count)
	for i := range codes {
		code := make([]byte, 8)
		for j := range code {
			n, err := rand.Int(rand.Reader, charsetLen)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			code[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(code)
	}
	return codes, nil
}

// HashCode returns the hex SHA-256 of a one-time code, used for backup and OTP codes at rest
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
