// store.go implements the Store: the in-memory, newest-first list of audit entries backed by
// a Backend. Persistence is best effort; a failed write is logged and counted but never
// surfaces to the code performing the audited action.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/go-green-rwanda/admin-backend/internal/safego"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// ChangeKind names what happened to the store
type ChangeKind string

const (
	ChangeLoad   ChangeKind = "load"
	ChangeAppend ChangeKind = "append"
	ChangeClear  ChangeKind = "clear"
)

// ChangeEvent is delivered to subscribers after the store changed. Entry is set for appends.
type ChangeEvent struct {
	Kind  ChangeKind `json:"kind"`
	Entry *Entry     `json:"entry,omitempty"`
	Total int        `json:"total"`
}

const subscriberBuffer = 16

// Store holds the authoritative audit list
type Store struct {
	backend Backend
	shipper Shipper
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
	loading atomic.Bool

	// loadsInFlight counts running Initialize calls. While it is non-zero, appends are
	// also recorded in appendedDuringLoad so the reload can merge them back in.
	loadsInFlight      int
	appendedDuringLoad []Entry
	clearedDuringLoad  bool

	subsMu  sync.Mutex
	subs    map[uint64]chan ChangeEvent
	nextSub uint64
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock overrides the time source used for generated timestamps
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the generator used for entry and session ids
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithShipper forwards every appended entry to sh
func WithShipper(sh Shipper) StoreOption {
	return func(s *Store) { s.shipper = sh }
}

// WithLogger sets the logger used for persistence diagnostics
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store over backend. Call Initialize to load persisted entries.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
		ids:     make(map[string]struct{}),
		subs:    make(map[uint64]chan ChangeEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "audit_store", "backend", backend.Name())
	return s
}

// Initialize loads the persisted list, replacing the in-memory one. A read failure or
// malformed data leaves the store empty; the problem is logged and nil is returned.
// Calling it again reloads.
func (s *Store) Initialize(ctx context.Context) error {
	s.loading.Store(true)
	defer s.loading.Store(false)

	s.mu.Lock()
	if s.loadsInFlight == 0 {
		s.appendedDuringLoad = nil
		s.clearedDuringLoad = false
	}
	s.loadsInFlight++
	s.mu.Unlock()

	loaded, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load audit log, starting empty", "error", err)
		loaded = nil
	}

	s.mu.Lock()
	s.loadsInFlight--
	if s.clearedDuringLoad {
		// the load may have read the list from before the clear
		loaded = nil
	}
	s.entries = make([]Entry, 0, len(loaded)+len(s.appendedDuringLoad))
	s.ids = make(map[string]struct{}, cap(s.entries))
	for _, e := range loaded {
		if _, dup := s.ids[e.ID]; dup || e.ID == "" {
			s.logger.Warn("skipping persisted audit entry with duplicate or empty id", "id", e.ID)
			continue
		}
		s.ids[e.ID] = struct{}{}
		s.entries = append(s.entries, e)
	}

	// Appends that raced the load go back in front, newest first, unless the load saw them.
	var missed []Entry
	for i := len(s.appendedDuringLoad) - 1; i >= 0; i-- {
		e := s.appendedDuringLoad[i]
		if _, seen := s.ids[e.ID]; seen {
			continue
		}
		s.ids[e.ID] = struct{}{}
		missed = append(missed, e)
	}
	if len(missed) > 0 {
		s.entries = append(missed, s.entries...)
		s.logger.Debug("kept entries appended during reload", "entries", len(missed))
	}
	if s.loadsInFlight == 0 {
		s.appendedDuringLoad = nil
		s.clearedDuringLoad = false
	}
	total := len(s.entries)
	s.mu.Unlock()

	telemetry.AuditStoreEntries.Set(float64(total))
	s.logger.Info("audit log loaded", "entries", total)
	s.notify(ChangeEvent{Kind: ChangeLoad, Total: total})
	return nil
}

// IsLoading reports whether Initialize is in progress
func (s *Store) IsLoading() bool {
	return s.loading.Load()
}

// Append completes in, stores it as the newest entry and persists the list.
// The stored entry is returned even when persistence fails.
func (s *Store) Append(ctx context.Context, in EntryInput) Entry {
	s.mu.Lock()
	entry := s.complete(in)
	s.ids[entry.ID] = struct{}{}

	next := make([]Entry, 0, len(s.entries)+1)
	next = append(next, entry)
	next = append(next, s.entries...)
	s.entries = next
	if s.loadsInFlight > 0 {
		s.appendedDuringLoad = append(s.appendedDuringLoad, entry)
	}

	if err := s.backend.Append(ctx, entry, next); err != nil {
		telemetry.AuditPersistFailuresTotal.WithLabelValues(s.backend.Name()).Inc()
		s.logger.Error("failed to persist audit entry", "id", entry.ID, "error", err)
	}
	total := len(next)
	s.mu.Unlock()

	telemetry.AuditEntriesAppendedTotal.WithLabelValues(string(entry.Category), string(entry.Severity)).Inc()
	telemetry.AuditStoreEntries.Set(float64(total))

	s.ship(entry)
	stored := entry.clone()
	s.notify(ChangeEvent{Kind: ChangeAppend, Entry: &stored, Total: total})
	return entry.clone()
}

// complete fills generated fields. Callers hold s.mu.
func (s *Store) complete(in EntryInput) Entry {
	e := Entry{
		ID:           in.ID,
		Actor:        in.Actor,
		Action:       in.Action,
		Category:     in.Category,
		Severity:     in.Severity,
		Description:  in.Description,
		Target:       in.Target,
		Changes:      in.Changes,
		SessionID:    in.SessionID,
		RequestID:    in.RequestID,
		Status:       in.Status,
		ErrorMessage: in.ErrorMessage,
		Duration:     in.Duration,
		Metadata:     in.Metadata,
	}
	e = e.clone()

	if _, dup := s.ids[e.ID]; e.ID == "" || dup {
		e.ID = s.newID()
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		e.Timestamp = in.Timestamp.UTC()
	} else {
		e.Timestamp = s.now()
	}
	if in.Device != nil {
		e.Device = *in.Device
	} else {
		e.Device = DeviceFromUserAgent("")
	}
	if in.Location != nil {
		e.Location = *in.Location
	} else {
		e.Location = LocationFromIP("")
	}
	if e.SessionID == "" {
		e.SessionID = s.newID()
	}
	return e
}

func (s *Store) ship(entry Entry) {
	if s.shipper == nil {
		return
	}
	safego.Go("audit-ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.shipper.Ship(ctx, &entry); err != nil {
			s.logger.Warn("failed to ship audit entry", "id", entry.ID, "error", err)
		}
	})
}

// Clear empties the store and persists the empty state
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.entries = []Entry{}
	s.ids = make(map[string]struct{})
	if s.loadsInFlight > 0 {
		s.appendedDuringLoad = nil
		s.clearedDuringLoad = true
	}
	if err := s.backend.Clear(ctx); err != nil {
		telemetry.AuditPersistFailuresTotal.WithLabelValues(s.backend.Name()).Inc()
		s.logger.Error("failed to persist cleared audit log", "error", err)
	}
	s.mu.Unlock()

	telemetry.AuditStoreEntries.Set(0)
	s.logger.Info("audit log cleared")
	s.notify(ChangeEvent{Kind: ChangeClear})
}

// All returns a copy of the list in stored order (newest appended first)
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of stored entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the entry with the given id or ErrEntryNotFound
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[id]; !ok {
		return Entry{}, ErrEntryNotFound
	}
	for _, e := range s.entries {
		if e.ID == id {
			return e.clone(), nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

// Subscribe registers for change events. The returned function unsubscribes and closes the
// channel. Events are dropped for a subscriber whose buffer is full.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberBuffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify(ev ChangeEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropping audit change event for slow subscriber", "kind", ev.Kind)
		}
	}
}

// Close releases the shipper, if any
func (s *Store) Close() error {
	if s.shipper == nil {
		return nil
	}
	return s.shipper.Close()
}
