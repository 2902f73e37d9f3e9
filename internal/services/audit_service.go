package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const auditPersistTimeout = 2 * time.Second

// AuditEvent is one security-relevant occurrence. ActorID is empty when no
// principal has authenticated yet.
type AuditEvent struct {
	Kind      string
	ActorID   string
	SubjectID string
	Success   bool
	Details   models.AuditDetails
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Record writes the audit log line and persists the event. A persistence
// failure is logged and otherwise ignored.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	s.auditLogger.Log(ctx, pkglogger.AuditEntry{
		EventKind: event.Kind,
		ActorID:   event.ActorID,
		SubjectID: event.SubjectID,
		Success:   event.Success,
		Details:   event.Details,
	})

	if s.repo == nil {
		return
	}

	// the caller may already be past its own deadline
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPersistTimeout)
	defer cancel()

	log := &models.AuditLog{
		EventKind: event.Kind,
		ActorID:   optionalString(event.ActorID),
		SubjectID: optionalString(event.SubjectID),
		Success:   event.Success,
		Details:   event.Details,
	}
	if err := s.repo.Create(persistCtx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_kind", event.Kind),
			slog.Any("error", err),
		)
	}
}

// SubjectTrail returns the newest audit events about one identity
func (s *AuditService) SubjectTrail(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.ListBySubject(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	return logs, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
