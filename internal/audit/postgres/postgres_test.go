package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/db/models"
	"github.com/go-green-rwanda/admin-backend/internal/db/repositories"
)

var auditCols = []string{
	"id", "timestamp", "actor_id", "actor_name", "actor_email", "actor_role", "actor_type",
	"action", "category", "severity", "description", "target", "changes", "device", "location",
	"session_id", "request_id", "status", "error_message", "duration_ms", "metadata",
}

func newMockBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(repositories.NewAuditRepository(sqlx.NewDb(db, "sqlmock"))), mock
}

func fullEntry() audit.Entry {
	d := int64(250)
	return audit.Entry{
		ID:           "e1",
		Timestamp:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Actor:        audit.Actor{ID: "a1", Name: "Jane", Email: "jane@x.com", Role: audit.RoleSuperAdmin, Type: audit.ActorAdmin},
		Action:       audit.ActionUpdate,
		Category:     audit.CategoryProduct,
		Severity:     audit.SeverityMedium,
		Description:  "Updated price",
		Target:       &audit.Target{Type: "product", ID: "p1", Name: "Solar lamp"},
		Changes:      []audit.Change{{Field: "price", OldValue: "10", NewValue: "12"}},
		Device:       audit.Device{Type: audit.DeviceDesktop, OS: "Linux", Browser: "Firefox"},
		Location:     audit.Location{IP: "10.0.0.1", Country: "Rwanda"},
		SessionID:    "s1",
		RequestID:    "r1",
		Status:       audit.StatusFailed,
		ErrorMessage: "conflict",
		Duration:     &d,
		Metadata:     map[string]any{"source": "dashboard"},
	}
}

func rowValues(t *testing.T, e audit.Entry) []any {
	t.Helper()
	r, err := ToRow(e)
	require.NoError(t, err)
	return []any{r.ID, r.Timestamp, r.ActorID, r.ActorName, r.ActorEmail, r.ActorRole, r.ActorType,
		r.Action, r.Category, r.Severity, r.Description, r.Target, r.Changes, r.Device, r.Location,
		r.SessionID, r.RequestID, r.Status, r.ErrorMessage, r.DurationMS, r.Metadata}
}

func TestRowConversion(t *testing.T) {
	e := fullEntry()
	row, err := ToRow(e)
	require.NoError(t, err)
	assert.Equal(t, "super_admin", row.ActorRole)
	assert.Equal(t, "r1", *row.RequestID)
	assert.JSONEq(t, `{"type":"product","id":"p1","name":"Solar lamp"}`, string(row.Target))

	back, err := FromRow(row)
	require.NoError(t, err)
	assert.Equal(t, e, back)
}

func TestRowConversion_OptionalFieldsStayEmpty(t *testing.T) {
	e := audit.Entry{ID: "e2", Timestamp: time.Now().UTC(), Actor: audit.Actor{ID: "sys", Type: audit.ActorSystem}}
	row, err := ToRow(e)
	require.NoError(t, err)
	assert.Nil(t, row.Target)
	assert.Nil(t, row.Changes)
	assert.Nil(t, row.Metadata)
	assert.Nil(t, row.RequestID)
	assert.Nil(t, row.ErrorMessage)

	back, err := FromRow(row)
	require.NoError(t, err)
	assert.Nil(t, back.Target)
	assert.Empty(t, back.Changes)
	assert.Empty(t, back.RequestID)
}

func TestFromRow_Malformed(t *testing.T) {
	_, err := FromRow(&models.AuditLog{ID: "bad", Device: []byte(`{`)})
	assert.Error(t, err)
}

func TestBackend_AppendInsertsOnlyNewRow(t *testing.T) {
	b, mock := newMockBackend(t)
	e := fullEntry()

	v := rowValues(t, e)
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("e1", sqlmock.AnyArg(), "a1", "Jane", "jane@x.com", "super_admin", "admin",
			"update", "product", "medium", "Updated price", v[11], v[12], v[13], v[14],
			"s1", "r1", "failed", "conflict", int64(250), v[20]).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, b.Append(context.Background(), e, []audit.Entry{e, {ID: "older"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_LoadOrdersByTimestamp(t *testing.T) {
	b, mock := newMockBackend(t)
	newer := fullEntry()
	older := fullEntry()
	older.ID = "e0"
	older.Timestamp = newer.Timestamp.Add(-time.Hour)

	mock.ExpectQuery("SELECT .+ FROM audit_logs ORDER BY timestamp DESC").
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(toDriver(rowValues(t, newer))...).
			AddRow(toDriver(rowValues(t, older))...))

	store := audit.NewStore(b)
	require.NoError(t, store.Initialize(context.Background()))
	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, "e1", all[0].ID)
	assert.Equal(t, "e0", all[1].ID)
	assert.Equal(t, "Solar lamp", all[0].Target.Name)
}

func TestBackend_LoadError(t *testing.T) {
	b, mock := newMockBackend(t)
	mock.ExpectQuery("SELECT .+ FROM audit_logs").WillReturnError(errors.New("connection refused"))

	_, err := b.Load(context.Background())
	assert.Error(t, err)
}

func TestBackend_Clear(t *testing.T) {
	b, mock := newMockBackend(t)
	mock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, b.Clear(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_Registered(t *testing.T) {
	_, err := audit.NewBackend(audit.BackendDeps{Config: config.AuditConfig{Backend: "postgres"}})
	assert.Error(t, err, "postgres backend without a database")

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend, err := audit.NewBackend(audit.BackendDeps{
		Config: config.AuditConfig{Backend: "postgres"},
		DB:     sqlx.NewDb(db, "sqlmock"),
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres", backend.Name())
}

// toDriver unwraps nil pointers so sqlmock rows carry plain driver values
func toDriver(values []any) []driver.Value {
	out := make([]driver.Value, len(values))
	for i, v := range values {
		switch p := v.(type) {
		case *string:
			if p != nil {
				out[i] = *p
			}
		case *int64:
			if p != nil {
				out[i] = *p
			}
		case []byte:
			if p != nil {
				out[i] = p
			}
		default:
			out[i] = v
		}
	}
	return out
}
