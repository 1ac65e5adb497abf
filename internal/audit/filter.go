package audit

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Filters constrains which entries Filter keeps. Empty strings and nil dates mean
// "no constraint on this dimension".
type Filters struct {
	Search    string     `json:"search,omitempty"`
	Category  Category   `json:"category,omitempty"`
	Action    Action     `json:"action,omitempty"`
	Severity  Severity   `json:"severity,omitempty"`
	ActorType ActorType  `json:"actorType,omitempty"`
	Status    Status     `json:"status,omitempty"`
	DateFrom  *time.Time `json:"dateFrom,omitempty"`
	DateTo    *time.Time `json:"dateTo,omitempty"`
}

// IsZero reports whether no constraint is set
func (f Filters) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" &&
		f.Category == "" && f.Action == "" && f.Severity == "" &&
		f.ActorType == "" && f.Status == "" &&
		f.DateFrom == nil && f.DateTo == nil
}

// Filter returns the entries matching every constraint in f, in their input order.
// The result is always a new slice; entries is never modified.
func Filter(entries []Entry, f Filters) []Entry {
	query := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.matches(e, query) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filters) matches(e Entry, query string) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.ActorType != "" && e.Actor.Type != f.ActorType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.DateFrom != nil && e.Timestamp.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.Timestamp.After(*f.DateTo) {
		return false
	}
	if query != "" && !matchesSearch(e, query) {
		return false
	}
	return true
}

// matchesSearch expects query to be lower-cased already
func matchesSearch(e Entry, query string) bool {
	fields := [...]string{
		e.Actor.Name,
		e.Actor.Email,
		e.Action.Label(),
		string(e.Action),
		e.Description,
		string(e.Category),
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// SortByTimestamp returns a copy of entries ordered by timestamp. Entries with equal
// timestamps keep their relative order.
func SortByTimestamp(entries []Entry, desc bool) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

const dateOnly = "2006-01-02"

// ParseFilters builds Filters from query parameters (search, category, action, severity,
// actorType, status, dateFrom, dateTo). Dates are RFC 3339 or YYYY-MM-DD; a bare dateTo
// covers the whole day.
func ParseFilters(q url.Values) (Filters, error) {
	f := Filters{
		Search:    strings.TrimSpace(q.Get("search")),
		Category:  Category(q.Get("category")),
		Action:    Action(q.Get("action")),
		Severity:  Severity(q.Get("severity")),
		ActorType: ActorType(q.Get("actorType")),
		Status:    Status(q.Get("status")),
	}

	if f.Category != "" && !f.Category.Valid() {
		return Filters{}, fmt.Errorf("unknown category %q", f.Category)
	}
	if f.Action != "" && !f.Action.Valid() {
		return Filters{}, fmt.Errorf("unknown action %q", f.Action)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return Filters{}, fmt.Errorf("unknown severity %q", f.Severity)
	}
	if f.ActorType != "" && !f.ActorType.Valid() {
		return Filters{}, fmt.Errorf("unknown actorType %q", f.ActorType)
	}
	if f.Status != "" && !f.Status.Valid() {
		return Filters{}, fmt.Errorf("unknown status %q", f.Status)
	}

	if v := q.Get("dateFrom"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid dateFrom: %w", err)
		}
		f.DateFrom = &t
	}
	if v := q.Get("dateTo"); v != "" {
		t, bare, err := parseDate(v)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid dateTo: %w", err)
		}
		if bare {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.DateTo = &t
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return Filters{}, fmt.Errorf("dateFrom must not be after dateTo")
	}

	return f, nil
}

// parseDate reports whether s was a bare calendar date
func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, true, nil
}
