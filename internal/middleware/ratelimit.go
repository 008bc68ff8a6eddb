package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/util"
)

// Limiter defaults.
const (
	defaultClientTTL       = 10 * time.Minute
	defaultCleanupInterval = time.Minute
)

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token-bucket inbound limiter, global or per client
// IP. Per-client entries expire after a TTL to bound memory.
type RateLimiter struct {
	global    *rate.Limiter
	perClient bool
	rps       int
	burst     int

	mu      sync.Mutex
	clients map[string]*clientEntry

	extractor *ClientIPExtractor
	metrics   *observability.Metrics
	logger    observability.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// RateLimiterOption is a functional option for the limiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithRateLimiterMetrics records limit hits on m.
func WithRateLimiterMetrics(m *observability.Metrics) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.metrics = m
	}
}

// WithClientIPExtractor sets the extractor keying per-client buckets.
func WithClientIPExtractor(e *ClientIPExtractor) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.extractor = e
	}
}

// NewRateLimiter creates a limiter with the given sustained rate and
// burst.
func NewRateLimiter(rps, burst int, perClient bool, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(rps), burst),
		perClient: perClient,
		rps:       rps,
		burst:     burst,
		clients:   make(map[string]*clientEntry),
		extractor: NewClientIPExtractor(nil),
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(rl)
	}

	if perClient {
		go rl.cleanupLoop()
	}

	return rl
}

// Allow reports whether a request from clientIP may proceed.
func (rl *RateLimiter) Allow(clientIP string) bool {
	if !rl.perClient {
		return rl.global.Allow()
	}

	now := time.Now()

	rl.mu.Lock()
	entry, ok := rl.clients[clientIP]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		}
		rl.clients[clientIP] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.removeIdleClients(defaultClientTTL)
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) removeIdleClients(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.clients {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and Retry-After.
func RateLimit(rl *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := rl.extractor.Extract(r)

			if !rl.Allow(clientIP) {
				rl.logger.Warn("rate limit exceeded",
					observability.String("client_ip", clientIP),
					observability.String("path", r.URL.Path),
				)
				if rl.metrics != nil {
					// The limiter runs before dispatch, so no route has
					// matched yet.
					route := util.RouteFromContext(r.Context())
					if route == "" {
						route = "inbound"
					}
					rl.metrics.RecordRateLimitHit(route)
				}

				w.Header().Set("Retry-After", "1")
				auth.WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitFromConfig builds the middleware from configuration. A nil
// or disabled config yields a pass-through and a nil limiter.
func RateLimitFromConfig(cfg *config.RateLimitConfig, opts ...RateLimiterOption) (Middleware, *RateLimiter) {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	rl := NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.PerClient, opts...)
	return RateLimit(rl), rl
}
