package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditColumns = `id, event_kind, actor_id, subject_id, success, details, created_at`

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(&log.ID, &log.EventKind, &log.ActorID, &log.SubjectID, &log.Success, &log.Details, &log.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	details, err := log.Details.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, event_kind, actor_id, subject_id, success, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.pool.Exec(ctx, query, log.ID, log.EventKind, log.ActorID, log.SubjectID, log.Success, details, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListBySubject returns the newest events about one identity, as subject or actor
func (r *AuditLogRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE subject_id = $1 OR actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", database.MapPostgresError(err))
	}
	return scanAuditLogRows(rows)
}

// DeleteOlderThan removes audit rows created before cutoff
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}
