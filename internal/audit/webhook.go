package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/safego"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

const webhookQueueSize = 1000

// WebhookShipper POSTs entries as JSON. With a batch size configured, entries are queued
// and sent as a JSON array once the batch fills or the flush interval passes.
type WebhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
	timeout time.Duration

	batchSize int
	every     time.Duration
	queue     chan *Entry
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper validates cfg and starts the batcher when batching is enabled
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}

	ws := &WebhookShipper{
		url:       cfg.URL,
		headers:   cfg.Headers,
		timeout:   secondsOr(cfg.TimeoutSecs, 10*time.Second),
		batchSize: cfg.BatchSize,
		every:     secondsOr(cfg.FlushInterval, 5*time.Second),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	ws.client = &http.Client{Timeout: ws.timeout}

	if ws.batchSize <= 0 {
		close(ws.stopped)
		return ws, nil
	}
	ws.queue = make(chan *Entry, webhookQueueSize)
	safego.Go("audit-webhook-batcher", ws.runBatcher)
	return ws, nil
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Ship queues the entry when batching, falling back to a direct POST once the queue is full
func (ws *WebhookShipper) Ship(ctx context.Context, entry *Entry) error {
	if ws.queue != nil {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return ws.post(ctx, body)
}

// runBatcher owns the pending batch; nothing else touches it
func (ws *WebhookShipper) runBatcher() {
	defer close(ws.stopped)

	ticker := time.NewTicker(ws.every)
	defer ticker.Stop()

	pending := make([]*Entry, 0, ws.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ws.sendBatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.stop:
			for {
				select {
				case entry := <-ws.queue:
					pending = append(pending, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) sendBatch(batch []*Entry) {
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("failed to encode audit batch", "entries", len(batch), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.post(ctx, body); err != nil {
		telemetry.AuditShipperErrorsTotal.WithLabelValues("webhook").Add(float64(len(batch)))
		slog.Warn("audit batch not delivered", "url", ws.url, "entries", len(batch), "error", err)
	}
}

func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

// Close sends whatever is still queued and stops the batcher. It is safe to call twice.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.stop) })
	<-ws.stopped
	return nil
}
