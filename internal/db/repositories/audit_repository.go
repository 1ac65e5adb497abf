// audit_repository.go implements AuditRepository, the row-level queries behind the postgres
// audit backend.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/go-green-rwanda/admin-backend/internal/db/models"
)

const auditColumns = `id, timestamp, actor_id, actor_name, actor_email, actor_role, actor_type,
	action, category, severity, description, target, changes, device, location,
	session_id, request_id, status, error_message, duration_ms, metadata`

// AuditRepository handles audit_logs queries
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert adds a single row
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.Timestamp, log.ActorID, log.ActorName, log.ActorEmail, log.ActorRole, log.ActorType,
		log.Action, log.Category, log.Severity, log.Description, log.Target, log.Changes,
		log.Device, log.Location, log.SessionID, log.RequestID, log.Status, log.ErrorMessage,
		log.DurationMS, log.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log %s: %w", log.ID, err)
	}
	return nil
}

// ListAll returns every row, newest first. Rows sharing a timestamp keep insertion order
// reversed.
func (r *AuditRepository) ListAll(ctx context.Context) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY timestamp DESC, seq DESC`

	logs := []*models.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// GetByID returns the row with id, or nil when it does not exist
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	var log models.AuditLog
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`
	err := r.db.GetContext(ctx, &log, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log %s: %w", id, err)
	}
	return &log, nil
}

// Count returns the number of rows
func (r *AuditRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM audit_logs`); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

// DeleteAll removes every row and returns how many were deleted
func (r *AuditRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
