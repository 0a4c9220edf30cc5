package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"loadplanner/internal/auth"
	"loadplanner/internal/config"
	"loadplanner/internal/metrics"
	"loadplanner/internal/store"
	"loadplanner/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Auth   *auth.Verifier
	Broker EventBroker
	Hooks  *webhooks.Notifier // nil when no webhook URL is configured
	Config *config.Config
	Log    *zap.Logger

	limiters  *xsync.Map[string, *clientLimiter]
	lastSweep atomic.Int64
	now       func() time.Time
}

// New wires a Server from already-built collaborators.
func New(cfg *config.Config, st store.Store, broker EventBroker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Store:    st,
		Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker:   broker,
		Config:   cfg,
		Log:      log,
		limiters: xsync.NewMap[string, *clientLimiter](),
		now:      time.Now,
	}
}

// NewServer creates a Server. If no database URL is configured, uses the
// in-memory store; if no Redis URL is configured, events stay in-process.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	var st store.Store
	if cfg.Store.DatabaseURL == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		st = pg
	}

	var broker EventBroker = NewBroker()
	if cfg.Server.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.Server.RedisURL)
		if err != nil {
			log.Warn("redis broker unavailable, using in-process events", zap.Error(err))
		} else {
			broker = rb
		}
	}
	s := New(cfg, st, broker, log)
	if cfg.Webhook.URL != "" {
		s.Hooks = webhooks.New(cfg.Webhook, log)
		s.Hooks.Start()
	}
	return s, nil
}

// Routes returns the full handler, middleware included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /combine, /events/stream, /events/ws
	mux.HandleFunc("/v1/lines/preview", s.LinesPreviewHandler)

	// Admin
	mux.HandleFunc("/v1/admin/weight-config", s.WeightConfigHandler)
	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/debug/config", s.DebugJSON)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.accessLog(s.instrument(s.rateLimit(mux)))
}

// Close stops webhook delivery and releases the store and broker connections.
func (s *Server) Close() error {
	var errs []error
	if s.Hooks != nil {
		errs = append(errs, s.Hooks.Close())
	}
	for _, c := range []any{s.Broker, s.Store} {
		if cl, ok := c.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}
