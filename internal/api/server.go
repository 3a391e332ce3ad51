package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/completion"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/coordinator"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// Frontier is the set of operations the HTTP layer exposes.
type Frontier interface {
	Submit(ctx context.Context, sub coordinator.Submission) (crawler.Crawl, error)
	GetCrawl(ctx context.Context, crawlID string) (crawler.Crawl, error)
	StopCrawl(ctx context.Context, crawlID string, hard bool) (crawler.Crawl, error)
	CrawlEvents(ctx context.Context, crawlID string, after int64, limit int) ([]store.Entry, error)
	PickJobs(ctx context.Context, crawlID string, num int) ([]crawler.Lease, error)
	AckJob(ctx context.Context, crawlID string, token []byte) error
	GetPage(ctx context.Context, pageID string, hydrate bool) (coordinator.PageView, error)
	CompletePage(ctx context.Context, pageID string, content []byte, links []string) (crawler.Page, completion.Report, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router   chi.Router
	frontier Frontier
	checks   []ReadinessCheck
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(frontier Frontier, cfg config.Config, logger *zap.Logger, checks ...ReadinessCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		frontier: frontier,
		checks:   checks,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		if cfg.Server.RateLimitRPS > 0 {
			r.Use(ratelimit.New(ratelimit.Config{
				RPS:   cfg.Server.RateLimitRPS,
				Burst: cfg.Server.RateLimitBurst,
			}).Middleware)
		}
		r.Post("/crawl", s.submitCrawl)
		r.Route("/crawl/{crawlID}", func(r chi.Router) {
			r.Get("/", s.getCrawl)
			r.Delete("/", s.stopCrawl)
			r.Get("/events", s.crawlEvents)
			r.Delete("/job/{deleteID}", s.ackJob)
		})
		r.Get("/job", s.pickJobs)
		r.Route("/page/{pageID}", func(r chi.Router) {
			r.Get("/", s.getPage)
			r.Put("/", s.completePage)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "check": c.Name})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeFrontierError maps domain errors onto HTTP statuses.
func (s *Server) writeFrontierError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		provisioning *crawler.ProvisioningError
		purge        *crawler.PurgeError
		status       int
		msg          string
	)
	switch {
	case errors.Is(err, crawler.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, crawler.ErrLeaseNotFound):
		status, msg = http.StatusNotFound, "lease not found"
	case errors.Is(err, crawler.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.As(err, &provisioning):
		status, msg = http.StatusBadGateway, "queue provisioning failed"
	case errors.As(err, &purge):
		status, msg = http.StatusInternalServerError, "crawl stopped but queue purge failed"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "request timed out"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	s.writeError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// Hydrated pages carry raw HTML; keep it readable.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
