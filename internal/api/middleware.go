package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"loadplanner/internal/metrics"
)

// statusRecorder captures the response status while keeping streaming and
// upgrade support of the wrapped writer.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func recorderFor(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := recorderFor(w)
		next.ServeHTTP(rec, r)
		s.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code()),
			zap.Int("bytes", rec.bytes),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("dur", time.Since(start)),
		)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := recorderFor(w)
		next.ServeHTTP(rec, r)
		status := strconv.Itoa(rec.code())
		path := routeLabel(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses plan ids so request metrics keep a bounded label set.
func routeLabel(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/plans/")
	if !ok || rest == "" {
		return path
	}
	_, tail, found := strings.Cut(rest, "/")
	if !found {
		return "/v1/plans/{id}"
	}
	return "/v1/plans/{id}/" + tail
}

var unlimitedPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// limiterIdleTTL is how long a client's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	*rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// rateLimit applies a token bucket per tenant, or per client host for
// unauthenticated requests. A non-positive rate disables it.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Config.Server.RateRPS <= 0 || unlimitedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := clientHost(r.RemoteAddr)
		if p, err := s.getPrincipal(r); err == nil {
			key = "tenant:" + p.Tenant
		}
		if !s.limiterFor(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return "host:" + remoteAddr
	}
	return "host:" + host
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	now := s.now()
	s.sweepLimiters(now)
	cl, ok := s.limiters.Load(key)
	if !ok {
		cl, _ = s.limiters.LoadOrStore(key, &clientLimiter{
			Limiter: rate.NewLimiter(rate.Limit(s.Config.Server.RateRPS), max(s.Config.Server.RateBurst, 1)),
		})
	}
	cl.lastSeen.Store(now.UnixNano())
	return cl.Limiter
}

// sweepLimiters drops buckets idle for longer than limiterIdleTTL. At most one
// sweep runs per TTL interval.
func (s *Server) sweepLimiters(now time.Time) {
	last := s.lastSweep.Load()
	if now.UnixNano()-last < int64(limiterIdleTTL) || !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	s.limiters.Range(func(key string, _ *clientLimiter) bool {
		s.limiters.Compute(key, func(cl *clientLimiter, loaded bool) (*clientLimiter, xsync.ComputeOp) {
			if loaded && cl.lastSeen.Load() < cutoff {
				return cl, xsync.DeleteOp
			}
			return cl, xsync.CancelOp
		})
		return true
	})
}
