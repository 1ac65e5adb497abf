package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Format is an export file format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv" in any case
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q (must be json or csv)", s)
}

// ContentType returns the MIME type of an export in format f
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// FileName follows the audit-logs-<timestamp>.<ext> download convention
func FileName(f Format, now time.Time) string {
	return fmt.Sprintf("audit-logs-%s.%s", now.UTC().Format(time.RFC3339), f)
}

// ToJSON serializes entries as a pretty-printed JSON array
func ToJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit entries: %w", err)
	}
	return data, nil
}

// ParseJSON decodes a ToJSON export
func ParseJSON(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return entries, nil
}

// DelimitedHeader is the header row of the delimited-text export
var DelimitedHeader = []string{
	"ID", "Timestamp", "Actor", "Action", "Category", "Severity",
	"Description", "Device", "Location", "Status",
}

// ToDelimitedText writes a header row and one row per entry separated by delim.
// Values containing the delimiter, quotes or line breaks are quoted.
func ToDelimitedText(entries []Entry, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim

	if err := w.Write(DelimitedHeader); err != nil {
		return nil, fmt.Errorf("failed to write export header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write(delimitedRow(e)); err != nil {
			return nil, fmt.Errorf("failed to write export row %s: %w", e.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return buf.Bytes(), nil
}

func delimitedRow(e Entry) []string {
	return []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Actor.Name,
		e.Action.Label(),
		string(e.Category),
		string(e.Severity),
		e.Description,
		e.Device.Browser + " on " + e.Device.OS,
		e.Location.City + ", " + e.Location.Country,
		string(e.Status),
	}
}

// Export renders entries in the given format
func Export(entries []Entry, f Format, delim rune) ([]byte, error) {
	switch f {
	case FormatJSON:
		return ToJSON(entries)
	case FormatCSV:
		return ToDelimitedText(entries, delim)
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}
