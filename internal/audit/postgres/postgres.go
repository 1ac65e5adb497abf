// Package postgres persists audit entries as rows of the audit_logs table. Unlike the blob
// backend it writes only the appended row, and ordering on load is done by the database.
package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/db/models"
	"github.com/go-green-rwanda/admin-backend/internal/db/repositories"
)

func init() {
	audit.RegisterBackend("postgres", func(deps audit.BackendDeps) (audit.Backend, error) {
		if deps.DB == nil {
			return nil, fmt.Errorf("postgres audit backend requires a database connection")
		}
		return New(repositories.NewAuditRepository(deps.DB)), nil
	})
}

// Repository is the subset of AuditRepository the backend needs
type Repository interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	ListAll(ctx context.Context) ([]*models.AuditLog, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// Backend stores one row per entry
type Backend struct {
	repo Repository
}

// New creates a postgres backend over repo
func New(repo Repository) *Backend {
	return &Backend{repo: repo}
}

func (b *Backend) Name() string { return "postgres" }

// Load returns every row ordered by timestamp, newest first
func (b *Backend) Load(ctx context.Context) ([]audit.Entry, error) {
	rows, err := b.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := FromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Append inserts entry. The snapshot is ignored.
func (b *Backend) Append(ctx context.Context, entry audit.Entry, _ []audit.Entry) error {
	row, err := ToRow(entry)
	if err != nil {
		return err
	}
	return b.repo.Insert(ctx, row)
}

// Clear deletes every row
func (b *Backend) Clear(ctx context.Context) error {
	_, err := b.repo.DeleteAll(ctx)
	return err
}

// ToRow converts an entry to its table representation
func ToRow(e audit.Entry) (*models.AuditLog, error) {
	row := &models.AuditLog{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		ActorID:     e.Actor.ID,
		ActorName:   e.Actor.Name,
		ActorEmail:  e.Actor.Email,
		ActorRole:   string(e.Actor.Role),
		ActorType:   string(e.Actor.Type),
		Action:      string(e.Action),
		Category:    string(e.Category),
		Severity:    string(e.Severity),
		Description: e.Description,
		SessionID:   e.SessionID,
		Status:      string(e.Status),
		DurationMS:  e.Duration,
	}
	if e.RequestID != "" {
		row.RequestID = &e.RequestID
	}
	if e.ErrorMessage != "" {
		row.ErrorMessage = &e.ErrorMessage
	}

	var err error
	if e.Target != nil {
		if row.Target, err = json.Marshal(e.Target); err != nil {
			return nil, fmt.Errorf("failed to encode target of %s: %w", e.ID, err)
		}
	}
	if len(e.Changes) > 0 {
		if row.Changes, err = json.Marshal(e.Changes); err != nil {
			return nil, fmt.Errorf("failed to encode changes of %s: %w", e.ID, err)
		}
	}
	if len(e.Metadata) > 0 {
		if row.Metadata, err = json.Marshal(e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to encode metadata of %s: %w", e.ID, err)
		}
	}
	if row.Device, err = json.Marshal(e.Device); err != nil {
		return nil, fmt.Errorf("failed to encode device of %s: %w", e.ID, err)
	}
	if row.Location, err = json.Marshal(e.Location); err != nil {
		return nil, fmt.Errorf("failed to encode location of %s: %w", e.ID, err)
	}
	return row, nil
}

// FromRow converts a table row back to an entry
func FromRow(row *models.AuditLog) (audit.Entry, error) {
	e := audit.Entry{
		ID:        row.ID,
		Timestamp: row.Timestamp.UTC(),
		Actor: audit.Actor{
			ID:    row.ActorID,
			Name:  row.ActorName,
			Email: row.ActorEmail,
			Role:  audit.Role(row.ActorRole),
			Type:  audit.ActorType(row.ActorType),
		},
		Action:      audit.Action(row.Action),
		Category:    audit.Category(row.Category),
		Severity:    audit.Severity(row.Severity),
		Description: row.Description,
		SessionID:   row.SessionID,
		Status:      audit.Status(row.Status),
		Duration:    row.DurationMS,
	}
	if row.RequestID != nil {
		e.RequestID = *row.RequestID
	}
	if row.ErrorMessage != nil {
		e.ErrorMessage = *row.ErrorMessage
	}

	decode := func(field string, data []byte, v any) error {
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("malformed %s in audit row %s: %w", field, row.ID, err)
		}
		return nil
	}
	if len(row.Target) > 0 && string(row.Target) != "null" {
		e.Target = &audit.Target{}
		if err := decode("target", row.Target, e.Target); err != nil {
			return audit.Entry{}, err
		}
	}
	if err := decode("changes", row.Changes, &e.Changes); err != nil {
		return audit.Entry{}, err
	}
	if err := decode("device", row.Device, &e.Device); err != nil {
		return audit.Entry{}, err
	}
	if err := decode("location", row.Location, &e.Location); err != nil {
		return audit.Entry{}, err
	}
	if err := decode("metadata", row.Metadata, &e.Metadata); err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}
