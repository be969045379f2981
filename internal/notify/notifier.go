// Package notify dispatches human-readable session and rollback outcomes to
// operator channels. Delivery is best-effort: failures are logged and
// counted, never propagated as fatal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event is one notification payload.
type Event struct {
	Event       string    `json:"event"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	Summary     string    `json:"summary"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier delivers events to one or more channels.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards events; used when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Webhook posts events as JSON to a single URL, with a circuit breaker so a
// dead endpoint cannot slow the monitoring loop down check after check.
type Webhook struct {
	url     string
	client  *http.Client
	breaker *breaker
	logger  *zap.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker(3, time.Minute),
		logger:  logger.Named("notify"),
	}
}

// Notify posts the event. The returned error is informational; callers log
// it as non-fatal.
func (w *Webhook) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	err := w.breaker.execute(func() error {
		body, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("deliver notification: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("notification endpoint returned HTTP %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("notification not delivered",
			zap.String("event", event.Event),
			zap.Bool("circuit_open", w.breaker.isOpen()),
			zap.Error(err))
		return err
	}

	w.logger.Debug("notification delivered", zap.String("event", event.Event))
	return nil
}
