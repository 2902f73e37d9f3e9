package auth

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt ignores anything past 72 bytes
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "password does not meet requirements: " + strings.Join(e.Errors, "; ")
}

var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty123":    true,
	"password123":  true,
	"password123!": true,
	"letmein1!":    true,
	"welcome1!":    true,
	"passw0rd":     true,
	"passw0rd!":    true,
	"trustno1":     true,
	"iloveyou1!":   true,
	"admin123!":    true,
}

// Hasher is a salted bcrypt password hasher
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's range
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare reports whether password matches hashedPassword
func (h *Hasher) Compare(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// CompareDummy burns the same bcrypt work as a real comparison, for lookups that found no identity
func (h *Hasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	problems := make([]string, 0)

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		problems = append(problems, "must contain at least one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain at least one digit")
	}
	if !hasSpecial {
		problems = append(problems, "must contain at least one special character")
	}

	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
