// Package audit holds the admin dashboard audit trail: the entry model, the log store and its
// backing-store contract, the filter engine, the aggregator and the exporters. Entries are
// append-only; the only destructive operation is a whole-store clear.
package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Length limits shared with the audit_logs table
const (
	MaxIDLength    = 64
	MaxFieldLength = 255
)

var (
	// ErrEntryNotFound is returned when no entry carries the requested id
	ErrEntryNotFound = errors.New("audit entry not found")
	// ErrUnknownBackend is returned by NewBackend for an unregistered backend name
	ErrUnknownBackend = errors.New("unknown audit backend")
	// ErrInvalidEntry wraps validation failures of an EntryInput
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Role is the dashboard role of an actor
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
	RoleUser       Role = "user"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleModerator, RoleUser:
		return true
	}
	return false
}

// ActorType distinguishes staff, shoppers and automated processes
type ActorType string

const (
	ActorAdmin    ActorType = "admin"
	ActorCustomer ActorType = "customer"
	ActorSystem   ActorType = "system"
)

// Valid reports whether t is a known actor type
func (t ActorType) Valid() bool {
	switch t {
	case ActorAdmin, ActorCustomer, ActorSystem:
		return true
	}
	return false
}

// Action is the kind of operation that was audited
type Action string

const (
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionFailedLogin      Action = "failed_login"
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionView             Action = "view"
	ActionStatusChange     Action = "status_change"
	ActionRoleChange       Action = "role_change"
	ActionPermissionChange Action = "permission_change"
	ActionExport           Action = "export"
	ActionImport           Action = "import"
	ActionBulkAction       Action = "bulk_action"
	ActionSettingsChange   Action = "settings_change"
	ActionPasswordChange   Action = "password_change"
	ActionEmailChange      Action = "email_change"
	ActionFileUpload       Action = "file_upload"
	ActionFileDelete       Action = "file_delete"
	ActionAPICall          Action = "api_call"
)

var actionLabels = map[Action]string{
	ActionLogin:            "Login",
	ActionLogout:           "Logout",
	ActionFailedLogin:      "Failed Login",
	ActionCreate:           "Create",
	ActionUpdate:           "Update",
	ActionDelete:           "Delete",
	ActionView:             "View",
	ActionStatusChange:     "Status Change",
	ActionRoleChange:       "Role Change",
	ActionPermissionChange: "Permission Change",
	ActionExport:           "Export",
	ActionImport:           "Import",
	ActionBulkAction:       "Bulk Action",
	ActionSettingsChange:   "Settings Change",
	ActionPasswordChange:   "Password Change",
	ActionEmailChange:      "Email Change",
	ActionFileUpload:       "File Upload",
	ActionFileDelete:       "File Delete",
	ActionAPICall:          "API Call",
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

// Label returns the human readable name shown in the dashboard ("Failed Login").
// Unknown actions are returned unchanged.
func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Category groups entries by subject area
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAdmin          Category = "admin"
	CategoryUser           Category = "user"
	CategoryProduct        Category = "product"
	CategoryOrder          Category = "order"
	CategoryBlog           Category = "blog"
	CategoryCustomer       Category = "customer"
	CategorySystem         Category = "system"
	CategorySecurity       Category = "security"
	CategorySettings       Category = "settings"
	CategoryFile           Category = "file"
	CategoryAPI            Category = "api"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryAuthentication, CategoryAdmin, CategoryUser, CategoryProduct,
	CategoryOrder, CategoryBlog, CategoryCustomer, CategorySystem,
	CategorySecurity, CategorySettings, CategoryFile, CategoryAPI,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity is an ordered priority classification: low < medium < high < critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from least to most severe
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the position of s in the severity order, or -1 for unknown values
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Status is the outcome of the audited action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending:
		return true
	}
	return false
}

// DeviceType is the form factor of the client
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Valid reports whether d is a known device type
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return true
	}
	return false
}

// Actor identifies who performed an action
type Actor struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Type  ActorType `json:"type"`
}

// Target identifies the entity an action was performed against
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Change is a single field diff
type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Device describes the client the action came from
type Device struct {
	Type             DeviceType `json:"type"`
	OS               string     `json:"os"`
	Browser          string     `json:"browser"`
	BrowserVersion   string     `json:"browserVersion"`
	ScreenResolution string     `json:"screenResolution"`
	UserAgent        string     `json:"userAgent"`
}

// Location describes where the action came from
type Location struct {
	IP       string `json:"ip"`
	Country  string `json:"country"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Timezone string `json:"timezone"`
	ISP      string `json:"isp"`
}

// Entry is an immutable record of one audited action
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        Actor          `json:"actor"`
	Action       Action         `json:"action"`
	Category     Category       `json:"category"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	Target       *Target        `json:"target,omitempty"`
	Changes      []Change       `json:"changes,omitempty"`
	Device       Device         `json:"device"`
	Location     Location       `json:"location"`
	SessionID    string         `json:"sessionId"`
	RequestID    string         `json:"requestId,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Duration     *int64         `json:"duration,omitempty"` // milliseconds
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EntryInput is what callers supply to Store.Append. Id, timestamp, device, location and
// session id are generated when left empty.
type EntryInput struct {
	ID           string         `json:"id,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	Actor        Actor          `json:"actor"`
	Action       Action         `json:"action"`
	Category     Category       `json:"category"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	Target       *Target        `json:"target,omitempty"`
	Changes      []Change       `json:"changes,omitempty"`
	Device       *Device        `json:"device,omitempty"`
	Location     *Location      `json:"location,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Duration     *int64         `json:"duration,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the enum fields and required values of the input.
// The returned error wraps ErrInvalidEntry.
func (in *EntryInput) Validate() error {
	var problems []string
	if in.Actor.ID == "" {
		problems = append(problems, "actor.id is required")
	}
	if in.Actor.Role != "" && !in.Actor.Role.Valid() {
		problems = append(problems, fmt.Sprintf("unknown actor.role %q", in.Actor.Role))
	}
	if !in.Actor.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown actor.type %q", in.Actor.Type))
	}
	if !in.Action.Valid() {
		problems = append(problems, fmt.Sprintf("unknown action %q", in.Action))
	}
	if !in.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown category %q", in.Category))
	}
	if !in.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", in.Severity))
	}
	if !in.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", in.Status))
	}
	if in.Device != nil && in.Device.Type != "" && !in.Device.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown device.type %q", in.Device.Type))
	}
	if in.Duration != nil && *in.Duration < 0 {
		problems = append(problems, "duration must not be negative")
	}
	if utf8.RuneCountInString(in.ID) > MaxIDLength {
		problems = append(problems, fmt.Sprintf("id exceeds %d characters", MaxIDLength))
	}
	for _, f := range []struct{ name, value string }{
		{"actor.id", in.Actor.ID},
		{"actor.name", in.Actor.Name},
		{"actor.email", in.Actor.Email},
		{"sessionId", in.SessionID},
		{"requestId", in.RequestID},
	} {
		if utf8.RuneCountInString(f.value) > MaxFieldLength {
			problems = append(problems, fmt.Sprintf("%s exceeds %d characters", f.name, MaxFieldLength))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(problems, "; "))
	}
	return nil
}

// clone returns a deep enough copy of e that callers cannot mutate the stored entry
// through shared slices or maps.
func (e Entry) clone() Entry {
	if e.Target != nil {
		t := *e.Target
		e.Target = &t
	}
	if e.Changes != nil {
		e.Changes = append([]Change(nil), e.Changes...)
	}
	if e.Duration != nil {
		d := *e.Duration
		e.Duration = &d
	}
	if e.Metadata != nil {
		m := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			m[k] = v
		}
		e.Metadata = m
	}
	return e
}
