// Package redisstore persists audit entries in a Redis list, newest at the head, and
// announces every change on a pub/sub channel so other instances can refresh.
package redisstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
)

const (
	DefaultKey     = "ggr:audit-logs"
	DefaultChannel = "ggr:audit-events"
)

func init() {
	audit.RegisterBackend("redis", func(deps audit.BackendDeps) (audit.Backend, error) {
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis audit backend requires a redis client")
		}
		return New(deps.Redis, deps.Config.RedisKey, deps.Config.RedisChannel), nil
	})
}

// Event is published on the channel after each write
type Event struct {
	Kind   string `json:"kind"`
	ID     string `json:"id,omitempty"`
	Origin string `json:"origin"`
}

// Backend stores one JSON document per entry
type Backend struct {
	client  redis.UniversalClient
	key     string
	channel string
	origin  string
}

// New creates a Redis backend. Empty key or channel fall back to the defaults.
func New(client redis.UniversalClient, key, channel string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Backend{client: client, key: key, channel: channel, origin: uuid.NewString()}
}

func (b *Backend) Name() string { return "redis" }

// Load returns the whole list. Any undecodable element fails the load.
func (b *Backend) Load(ctx context.Context) ([]audit.Entry, error) {
	raw, err := b.client.LRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.key, err)
	}

	entries := make([]audit.Entry, 0, len(raw))
	for i, item := range raw {
		var e audit.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("malformed audit entry at %s[%d]: %w", b.key, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Append pushes entry onto the head of the list
func (b *Backend) Append(ctx context.Context, entry audit.Entry, _ []audit.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	event, _ := json.Marshal(Event{Kind: string(audit.ChangeAppend), ID: entry.ID, Origin: b.origin})

	_, err = b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, b.key, data)
		p.Publish(ctx, b.channel, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Clear deletes the list
func (b *Backend) Clear(ctx context.Context) error {
	event, _ := json.Marshal(Event{Kind: string(audit.ChangeClear), Origin: b.origin})

	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.key)
		p.Publish(ctx, b.channel, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", b.key, err)
	}
	return nil
}

// Watch calls onChange for every change published by another instance until ctx is done.
// Events this backend published itself are ignored.
func (b *Backend) Watch(ctx context.Context, onChange func(Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if ev, remote := b.remoteEvent(msg.Payload); remote {
				onChange(ev)
			}
		}
	}
}

// remoteEvent decodes payload and reports whether it came from another instance
func (b *Backend) remoteEvent(payload string) (Event, bool) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("ignoring malformed audit change event", "channel", b.channel, "error", err)
		return Event{}, false
	}
	return ev, ev.Origin != b.origin
}
