package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"loadplanner/internal/config"
	"loadplanner/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type received struct {
	sig, typ, id string
	body         []byte
}

func newNotifier(t *testing.T, srv *httptest.Server, attempts int) *Notifier {
	t.Helper()
	n := New(config.WebhookConfig{URL: srv.URL, Secret: "secret", MaxAttempts: attempts}, nil)
	n.HTTP = srv.Client()
	n.backoff = func(int) time.Duration { return time.Millisecond }
	n.now = func() time.Time { return time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC) }
	return n
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"id":"evt1"}`)
	sig := Sign("secret", body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify("secret", body, sig))
	assert.True(t, Verify("secret", body, sig[len("sha256="):]))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("secret", []byte(`{}`), sig))
	assert.False(t, Verify("secret", body, "sha256=zz"))
}

func TestDeliverSigned(t *testing.T) {
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{sig: r.Header.Get(HeaderSignature), typ: r.Header.Get(HeaderEventType), id: r.Header.Get(HeaderEventID), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := newNotifier(t, srv, 3)
	n.Start()
	n.Start()
	defer func() { require.NoError(t, n.Close()) }()
	n.Emit("t1", "p1", "plan.created", map[string]any{"version": 1})

	select {
	case r := <-got:
		assert.Equal(t, "plan.created", r.typ)
		assert.True(t, Verify("secret", r.body, r.sig))
		var evt Event
		require.NoError(t, json.Unmarshal(r.body, &evt))
		assert.Equal(t, r.id, evt.ID)
		assert.Equal(t, "t1", evt.TenantID)
		assert.Equal(t, "p1", evt.PlanID)
		assert.Equal(t, "2025-01-10T08:00:00Z", evt.TS)
		assert.InDelta(t, 1, evt.Data["version"], 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	n := newNotifier(t, srv, 5)
	n.Start()
	defer func() { require.NoError(t, n.Close()) }()
	n.Emit("t1", "p1", "plan.combined", map[string]any{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	failed := metrics.WebhookDeliveries.WithLabelValues("failed")
	before := testutil.ToFloat64(failed)

	n := newNotifier(t, srv, 2)
	n.Start()
	defer func() { require.NoError(t, n.Close()) }()
	n.Emit("t1", "p1", "plan.created", map[string]any{})

	require.Eventually(t, func() bool { return testutil.ToFloat64(failed) == before+1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitDropsWhenFull(t *testing.T) {
	n := New(config.WebhookConfig{URL: "http://127.0.0.1:1", MaxAttempts: 1}, nil)
	dropped := metrics.WebhookDeliveries.WithLabelValues("dropped")
	before := testutil.ToFloat64(dropped)
	for range queueSize + 2 {
		n.Emit("t1", "p1", "plan.created", map[string]any{})
	}
	assert.InDelta(t, before+2, testutil.ToFloat64(dropped), 1e-9)
	require.NoError(t, n.Close())

	var nilNotifier *Notifier
	nilNotifier.Emit("t1", "p1", "plan.created", nil)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 4*time.Second, nextBackoff(2))
	assert.Equal(t, time.Minute, nextBackoff(30))
}
