package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// Mailer is the mail dispatcher. Callers treat every send as best-effort.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendPasswordResetCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendAccountLockedNotice(ctx context.Context, email, reason string, until *time.Time) error
	SendAccountUnlockedNotice(ctx context.Context, email string) error
	SendPasswordChangedNotice(ctx context.Context, email string) error
	SendWelcomeNotice(ctx context.Context, email string) error
}

// sesClient is the subset of *ses.Client used for delivery
type sesClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      sesClient
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESEmailService(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func newSESEmailService(client sesClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *AWSSESEmailService) SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	body := fmt.Sprintf("Your verification code is %s.\n\nIt expires at %s. If you did not create an account, ignore this email.\n",
		code, expiresAt.UTC().Format(time.RFC1123))
	return s.send(ctx, email, "Verify your email address", body)
}

func (s *AWSSESEmailService) SendPasswordResetCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	body := fmt.Sprintf("Your password reset code is %s.\n\nIt expires at %s. If you did not ask to reset your password, ignore this email.\n",
		code, expiresAt.UTC().Format(time.RFC1123))
	return s.send(ctx, email, "Reset your password", body)
}

func (s *AWSSESEmailService) SendAccountLockedNotice(ctx context.Context, email, reason string, until *time.Time) error {
	body := fmt.Sprintf("Your account has been locked: %s.\n", reason)
	if until != nil {
		body += fmt.Sprintf("\nYou can sign in again after %s.\n", until.UTC().Format(time.RFC1123))
	} else {
		body += "\nContact support to unlock it.\n"
	}
	return s.send(ctx, email, "Your account has been locked", body)
}

func (s *AWSSESEmailService) SendAccountUnlockedNotice(ctx context.Context, email string) error {
	return s.send(ctx, email, "Your account has been unlocked", "Your account has been unlocked. You can sign in again.\n")
}

func (s *AWSSESEmailService) SendPasswordChangedNotice(ctx context.Context, email string) error {
	return s.send(ctx, email, "Your password was changed",
		"Your password was just changed. If this was not you, reset your password immediately and contact support.\n")
}

func (s *AWSSESEmailService) SendWelcomeNotice(ctx context.Context, email string) error {
	return s.send(ctx, email, "Welcome", "Your email address is verified. Welcome aboard.\n")
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService records outgoing mail in the log instead of delivering it.
// Codes are never written.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) log(ctx context.Context, kind, email string, attrs ...slog.Attr) error {
	attrs = append([]slog.Attr{
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(email)),
	}, attrs...)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "email not delivered (log provider)", attrs...)
	return nil
}

func (s *LogEmailService) SendVerificationCode(ctx context.Context, email, _ string, expiresAt time.Time) error {
	return s.log(ctx, "verification_code", email, slog.Time("expires_at", expiresAt))
}

func (s *LogEmailService) SendPasswordResetCode(ctx context.Context, email, _ string, expiresAt time.Time) error {
	return s.log(ctx, "password_reset_code", email, slog.Time("expires_at", expiresAt))
}

func (s *LogEmailService) SendAccountLockedNotice(ctx context.Context, email, reason string, until *time.Time) error {
	attrs := []slog.Attr{slog.String("reason", reason)}
	if until != nil {
		attrs = append(attrs, slog.Time("until", *until))
	}
	return s.log(ctx, "account_locked", email, attrs...)
}

func (s *LogEmailService) SendAccountUnlockedNotice(ctx context.Context, email string) error {
	return s.log(ctx, "account_unlocked", email)
}

func (s *LogEmailService) SendPasswordChangedNotice(ctx context.Context, email string) error {
	return s.log(ctx, "password_changed", email)
}

func (s *LogEmailService) SendWelcomeNotice(ctx context.Context, email string) error {
	return s.log(ctx, "welcome", email)
}

// dispatch runs a best-effort send, logging failures
func dispatch(ctx context.Context, logger *slog.Logger, kind string, send func() error) {
	if err := send(); err != nil {
		logger.WarnContext(ctx, "mail dispatch failed",
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	}
}
