package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// keep only the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// RedactedAttr hides the value outside development
func RedactedAttr(key, value, env string) slog.Attr {
	if env != "development" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password", "token", "secret", "email", "code", "otp", "auth",
}

// SanitizeQueryString reports whether a query string carries a parameter
// that must not reach the logs
func SanitizeQueryString(rawQuery string) bool {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return true
	}
	for name := range values {
		lower := strings.ToLower(name)
		for _, p := range sensitiveParams {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}
