// shipper.go fans appended entries out to external destinations so they reach a SIEM or log
// pipeline independently of the backend that persists the trail.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// Shipper delivers entries to one external destination
type Shipper interface {
	Ship(ctx context.Context, entry *Entry) error
	Close() error
}

type shipperFactory func(cfg config.AuditShipperConfig) (Shipper, error)

var shipperFactories = map[string]shipperFactory{
	"webhook": func(cfg config.AuditShipperConfig) (Shipper, error) {
		if cfg.Webhook == nil {
			return nil, errors.New("webhook section is missing")
		}
		return NewWebhookShipper(cfg.Webhook)
	},
	"file": func(cfg config.AuditShipperConfig) (Shipper, error) {
		if cfg.File == nil {
			return nil, errors.New("file section is missing")
		}
		return NewFileShipper(cfg.File)
	},
	"kafka": func(cfg config.AuditShipperConfig) (Shipper, error) {
		if cfg.Kafka == nil {
			return nil, errors.New("kafka section is missing")
		}
		return NewKafkaShipper(cfg.Kafka)
	},
}

// MultiShipper delivers every entry to all of its destinations
type MultiShipper struct {
	mu    sync.RWMutex
	kinds []string
	dests []Shipper
}

// NewMultiShipper builds a destination for each enabled config. A bad config closes the
// destinations already opened and fails the whole set.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		factory, ok := shipperFactories[cfg.Type]
		if !ok {
			ms.Close()
			return nil, fmt.Errorf("shipper %d: unknown type %q", i, cfg.Type)
		}
		dest, err := factory(cfg)
		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("shipper %d (%s): %w", i, cfg.Type, err)
		}
		ms.kinds = append(ms.kinds, cfg.Type)
		ms.dests = append(ms.dests, dest)
	}
	return ms, nil
}

// Len reports how many destinations are configured
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.dests)
}

// Ship tries every destination and joins their failures
func (ms *MultiShipper) Ship(ctx context.Context, entry *Entry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for i, dest := range ms.dests {
		err := dest.Ship(ctx, entry)
		if err == nil {
			continue
		}
		kind := ms.kinds[i]
		telemetry.AuditShipperErrorsTotal.WithLabelValues(kind).Inc()
		slog.Warn("audit entry not shipped", "shipper", kind, "entry_id", entry.ID, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", kind, err))
	}
	return errors.Join(errs...)
}

// Close releases every destination
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, dest := range ms.dests {
		errs = append(errs, dest.Close())
	}
	ms.dests, ms.kinds = nil, nil
	return errors.Join(errs...)
}
