// Package http exposes the tracker as a JSON API with a server-sent events
// stream of snapshots.
package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"expenses/internal/core"
	applog "expenses/internal/log"
	"expenses/internal/middleware/ratelimit"
	"expenses/internal/middleware/trace"
	"expenses/internal/pipeline"
	"expenses/internal/services"
)

// Tracker is the application surface the handlers drive.
// *services.Tracker implements it.
type Tracker interface {
	Snapshot() pipeline.Snapshot
	Sync(ctx context.Context) (pipeline.Snapshot, error)
	Subscribe() (<-chan pipeline.Snapshot, func())
	Filter() core.Filter
	SetFilter(ctx context.Context, f core.Filter) (pipeline.Snapshot, error)
	Currency() core.Currency
	SetCurrency(ctx context.Context, c core.Currency) (services.ConversionReport, error)
	RetryConversion(ctx context.Context, report services.ConversionReport) (services.ConversionReport, error)
	DarkMode() bool
	SetDarkMode(ctx context.Context, enabled bool) error
	AddExpense(ctx context.Context, p services.NewExpenseParams) (int64, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, e core.Expense) error
	Categories(ctx context.Context) ([]string, error)
}

type Server struct {
	http.Server
	tracker   Tracker
	ready     func(ctx context.Context) error
	logger    *applog.StructuredLogger
	writes    *ratelimit.Limiter
	heartbeat time.Duration
	now       func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithWriteLimit throttles mutating requests per client address.
func WithWriteLimit(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.writes = l }
}

// NewServer configures routes, returning a ready-to-run http.Server.
// ready reports backend health for /readyz and may be nil.
func NewServer(addr string, tracker Tracker, ready func(ctx context.Context) error, logger *applog.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()
	tracing := trace.NewMiddleware(logger, clientIP)

	var handler http.Handler = mux
	handler = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = applog.ComponentMiddleware(applog.ComponentHTTP)(handler)
	handler = applog.Middleware(logger)(handler)
	handler = tracing.Middleware(handler)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		tracker:   tracker,
		ready:     ready,
		logger:    applog.NewStructuredLogger(logger.WithComponent(applog.ComponentHTTP)),
		heartbeat: 15 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/expenses", s.withAPIHeaders(s.handleSnapshot))
	mux.HandleFunc("POST /api/expenses", s.withAPIHeaders(s.limitWrites(s.handleCreateExpense)))
	mux.HandleFunc("PUT /api/expenses/{id}", s.withAPIHeaders(s.limitWrites(s.handleUpdateExpense)))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withAPIHeaders(s.limitWrites(s.handleDeleteExpense)))
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/filter", s.withAPIHeaders(s.handleGetFilter))
	mux.HandleFunc("PUT /api/filter", s.withAPIHeaders(s.limitWrites(s.handleSetFilter)))
	mux.HandleFunc("GET /api/categories", s.withAPIHeaders(s.handleCategories))

	mux.HandleFunc("GET /api/settings", s.withAPIHeaders(s.handleSettings))
	mux.HandleFunc("PUT /api/currency", s.withAPIHeaders(s.limitWrites(s.handleSetCurrency)))
	mux.HandleFunc("POST /api/currency/retry", s.withAPIHeaders(s.limitWrites(s.handleRetryConversion)))
	mux.HandleFunc("PUT /api/dark-mode", s.withAPIHeaders(s.limitWrites(s.handleSetDarkMode)))

	return s
}

// withAPIHeaders marks responses as uncacheable JSON.
func (s *Server) withAPIHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

func (s *Server) limitWrites(next http.HandlerFunc) http.HandlerFunc {
	if s.writes == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.writes.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.LogError(r.Context(), "Readiness check failed", err, applog.ComponentBackend, applog.OpRead, nil)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// clientIP returns the first X-Forwarded-For hop from a loopback proxy,
// otherwise the direct peer address.
func clientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	parsed := net.ParseIP(directIP)
	if parsed == nil || !parsed.IsLoopback() {
		return directIP
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	return directIP
}
