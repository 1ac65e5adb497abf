package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
)

func TestNewBackend_Memory(t *testing.T) {
	b, err := audit.NewBackend(audit.BackendDeps{Config: config.AuditConfig{Backend: "memory"}})
	if err != nil {
		t.Fatalf("NewBackend(memory) error: %v", err)
	}
	if b.Name() != "memory" {
		t.Errorf("Name() = %q, want memory", b.Name())
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := audit.NewBackend(audit.BackendDeps{Config: config.AuditConfig{Backend: "floppy"}})
	if !errors.Is(err, audit.ErrUnknownBackend) {
		t.Errorf("NewBackend(floppy) error = %v, want ErrUnknownBackend", err)
	}
}

func TestRegisterBackend(t *testing.T) {
	audit.RegisterBackend("test-registry", func(audit.BackendDeps) (audit.Backend, error) {
		return audit.NewMemoryBackend(), nil
	})

	var found bool
	names := audit.RegisteredBackends()
	for i, name := range names {
		if name == "test-registry" {
			found = true
		}
		if i > 0 && names[i-1] > name {
			t.Errorf("RegisteredBackends() not sorted: %v", names)
		}
	}
	if !found {
		t.Errorf("RegisteredBackends() = %v, missing test-registry", names)
	}

	if _, err := audit.NewBackend(audit.BackendDeps{Config: config.AuditConfig{Backend: "test-registry"}}); err != nil {
		t.Errorf("NewBackend(test-registry) error: %v", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := audit.NewMemoryBackend()

	got, err := b.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("Load() on empty backend = %v, %v; want empty, nil", got, err)
	}

	snapshot := []audit.Entry{{ID: "e2"}, {ID: "e1"}}
	if err := b.Append(ctx, snapshot[0], snapshot); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	snapshot[0].ID = "mutated"

	got, _ = b.Load(ctx)
	if len(got) != 2 || got[0].ID != "e2" {
		t.Errorf("Load() = %v, want [e2 e1]", got)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got, _ = b.Load(ctx); len(got) != 0 {
		t.Errorf("Load() after Clear = %v, want empty", got)
	}
}
