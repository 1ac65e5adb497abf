// Package models - audit_log.go defines the AuditLog row stored by the postgres audit backend.
// Nested parts of an entry (target, changes, device, location, metadata) are kept as JSONB.
package models

import "time"

// AuditLog is one row of the audit_logs table
type AuditLog struct {
	ID           string    `db:"id"`
	Timestamp    time.Time `db:"timestamp"`
	ActorID      string    `db:"actor_id"`
	ActorName    string    `db:"actor_name"`
	ActorEmail   string    `db:"actor_email"`
	ActorRole    string    `db:"actor_role"`
	ActorType    string    `db:"actor_type"`
	Action       string    `db:"action"`
	Category     string    `db:"category"`
	Severity     string    `db:"severity"`
	Description  string    `db:"description"`
	Target       []byte    `db:"target"`  // JSONB, nullable
	Changes      []byte    `db:"changes"` // JSONB, nullable
	Device       []byte    `db:"device"`
	Location     []byte    `db:"location"`
	SessionID    string    `db:"session_id"`
	RequestID    *string   `db:"request_id"`
	Status       string    `db:"status"`
	ErrorMessage *string   `db:"error_message"`
	DurationMS   *int64    `db:"duration_ms"`
	Metadata     []byte    `db:"metadata"` // JSONB, nullable
}
