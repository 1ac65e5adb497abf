package audit

// Aggregations are recomputed from the given slice on every call; the slice is typically a
// filtered view, so nothing is cached.

// Total returns the number of entries
func Total(entries []Entry) int {
	return len(entries)
}

// CountByStatus returns how many entries have the given status
func CountByStatus(entries []Entry, status Status) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// CountBySeverity returns how many entries have the given severity
func CountBySeverity(entries []Entry, severity Severity) int {
	n := 0
	for _, e := range entries {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

// UniqueActorCount returns the number of distinct actor ids
func UniqueActorCount(entries []Entry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Actor.ID] = struct{}{}
	}
	return len(seen)
}

// Summary holds the dashboard counters for a set of entries
type Summary struct {
	Total        int              `json:"total"`
	Success      int              `json:"success"`
	Failed       int              `json:"failed"`
	Pending      int              `json:"pending"`
	UniqueActors int              `json:"uniqueActors"`
	BySeverity   map[Severity]int `json:"bySeverity"`
	ByCategory   map[Category]int `json:"byCategory"`
}

// Summarize computes every Summary counter in a single pass
func Summarize(entries []Entry) Summary {
	s := Summary{
		Total:      len(entries),
		BySeverity: make(map[Severity]int, len(Severities)),
		ByCategory: make(map[Category]int),
	}
	for _, sev := range Severities {
		s.BySeverity[sev] = 0
	}

	actors := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		switch e.Status {
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		case StatusPending:
			s.Pending++
		}
		s.BySeverity[e.Severity]++
		s.ByCategory[e.Category]++
		actors[e.Actor.ID] = struct{}{}
	}
	s.UniqueActors = len(actors)
	return s
}
