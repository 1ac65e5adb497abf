// backend.go defines the persistence contract behind the Store and a registry that maps
// configured backend names (memory, blob, redis, postgres) to constructors.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
)

// Backend persists the audit list. Whole-list backends write snapshot; row-oriented
// backends insert only entry.
type Backend interface {
	// Load returns the persisted entries newest first. A backend with nothing stored
	// returns an empty slice and no error.
	Load(ctx context.Context) ([]Entry, error)
	// Append persists entry. snapshot is the full list after the append, newest first.
	Append(ctx context.Context, entry Entry, snapshot []Entry) error
	// Clear removes every persisted entry
	Clear(ctx context.Context) error
	// Name identifies the backend in logs and metrics
	Name() string
}

// BackendDeps carries the shared clients a backend may need. Only the client used by the
// configured backend has to be set.
type BackendDeps struct {
	Config  config.AuditConfig
	Storage storage.Storage
	Redis   redis.UniversalClient
	DB      *sqlx.DB
}

// BackendFactory builds a backend from its dependencies
type BackendFactory func(deps BackendDeps) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend makes a backend available under name. Backend packages call it from init.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// RegisteredBackends returns the sorted names of all registered backends
func RegisteredBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend creates the backend named by deps.Config.Backend
func NewBackend(deps BackendDeps) (Backend, error) {
	backendsMu.RLock()
	factory, ok := backends[deps.Config.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, deps.Config.Backend, RegisteredBackends())
	}
	return factory(deps)
}

func init() {
	RegisterBackend("memory", func(BackendDeps) (Backend, error) {
		return NewMemoryBackend(), nil
	})
}

// MemoryBackend keeps the last persisted snapshot in memory. It survives a Store reload
// but not a process restart.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryBackend returns an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry{}, m.entries...), nil
}

func (m *MemoryBackend) Append(ctx context.Context, entry Entry, snapshot []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]Entry(nil), snapshot...)
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func (m *MemoryBackend) Name() string { return "memory" }
