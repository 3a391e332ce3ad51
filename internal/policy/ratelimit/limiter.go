// Package ratelimit throttles API clients with one token bucket per client
// key, so a worker fleet polling for jobs in a tight loop cannot starve the
// store.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64
	Burst int
	// MaxClients bounds how many client buckets are tracked at once.
	MaxClients int
	// IdleTTL drops a client's bucket after this long without requests.
	IdleTTL time.Duration
}

// Limiter manages per-client rate limits.
type Limiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

// New creates a new Limiter. RPS <= 0 means unlimited.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	size := cfg.MaxClients
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
		limit:   r,
		burst:   burst,
	}
}

// Allow reports whether the client identified by key may make a request now.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle TTL.
	l.buckets.Add(key, b)
	return b
}

// Middleware rejects requests over the client's budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) retryAfterSeconds() int {
	if l.limit == rate.Inf || l.limit <= 0 {
		return 1
	}
	secs := int(1/float64(l.limit) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ClientKey identifies the caller by API key when present, falling back to the
// remote IP.
func ClientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
