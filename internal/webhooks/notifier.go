// Package webhooks posts plan events to an external endpoint with HMAC
// signatures and bounded retries.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loadplanner/internal/config"
	"loadplanner/internal/metrics"
)

const queueSize = 256

// Event is the JSON body of one delivery.
type Event struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	TenantID string         `json:"tenantId"`
	PlanID   string         `json:"planId"`
	TS       string         `json:"ts"`
	Data     map[string]any `json:"data"`
}

type delivery struct {
	event Event
	body  []byte
}

// Notifier queues events in memory and delivers them from one worker, in order.
// Events still queued at Close are dropped.
type Notifier struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Log         *zap.Logger

	backoff func(attempt int) time.Duration
	now     func() time.Time
	queue   chan delivery

	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.WebhookConfig, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Notifier{
		URL:         cfg.URL,
		Secret:      cfg.Secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: attempts,
		Log:         log.Named("webhooks"),
		backoff:     nextBackoff,
		now:         time.Now,
		queue:       make(chan delivery, queueSize),
	}
}

// Start launches the delivery worker. Later calls are no-ops.
func (n *Notifier) Start() {
	n.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.run(ctx)
		}()
	})
}

// Close stops the worker and waits for an in-flight delivery to give up.
func (n *Notifier) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	return nil
}

// Emit queues one event. It never blocks: a full queue drops the event.
// A nil Notifier ignores every event.
func (n *Notifier) Emit(tenantID, planID, eventType string, data map[string]any) {
	if n == nil {
		return
	}
	evt := Event{
		ID:       "evt_" + uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		PlanID:   planID,
		TS:       n.now().UTC().Format(time.RFC3339),
		Data:     data,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		n.Log.Error("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case n.queue <- delivery{event: evt, body: body}:
	default:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		n.Log.Warn("webhook queue full, dropping event", zap.String("id", evt.ID), zap.String("type", eventType))
	}
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-n.queue:
			n.deliver(ctx, d)
		}
	}
}

// deliver retries until a 2xx, MaxAttempts, or shutdown.
func (n *Notifier) deliver(ctx context.Context, d delivery) {
	log := n.Log.With(zap.String("id", d.event.ID), zap.String("type", d.event.Type), zap.String("planId", d.event.PlanID))
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
			t := time.NewTimer(n.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		start := time.Now()
		code, err := n.post(ctx, d)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
			log.Debug("delivered", zap.Int("status", code), zap.Duration("took", time.Since(start)))
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("delivery attempt failed", zap.Int("attempt", attempt+1), zap.Int("status", code), zap.Error(err))
	}
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	log.Error("delivery abandoned", zap.Int("attempts", n.MaxAttempts))
}

func (n *Notifier) post(ctx context.Context, d delivery) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.URL, bytes.NewReader(d.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, d.event.Type)
	req.Header.Set(HeaderEventID, d.event.ID)
	if n.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(n.Secret, d.body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// nextBackoff doubles from one second, capped at one minute.
func nextBackoff(attempts int) time.Duration {
	attempts = min(max(attempts, 0), 6)
	return min(time.Second<<attempts, time.Minute)
}
