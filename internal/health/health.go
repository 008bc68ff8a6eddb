// Package health serves the /health, /livez, and /readyz probes.
// Readiness and health run the registered checks in parallel under a
// shared timeout; liveness only reports that the process is serving.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dogcatcher/authgw/internal/observability"
)

// Probe statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DefaultCheckTimeout bounds one probe's check run.
const DefaultCheckTimeout = 5 * time.Second

// Check is one named readiness check.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckFunc creates a named functional check.
func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the check name.
func (f *CheckFunc) Name() string { return f.name }

// Check runs the function.
func (f *CheckFunc) Check(ctx context.Context) error { return f.fn(ctx) }

// Status is the probe response body.
type Status struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Uptime    string                  `json:"uptime,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is one check outcome in the probe body.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Handler runs the registered checks and serves the probe endpoints.
type Handler struct {
	service   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger

	mu     sync.RWMutex
	checks []Check
}

// Option is a functional option for the handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCheckTimeout bounds one probe's check run.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// NewHandler creates a probe handler for the named service.
func NewHandler(service string, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck unregisters a check by name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.checks {
		if c.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// runChecks runs all checks in parallel and aggregates the outcome.
func (h *Handler) runChecks(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    StatusHealthy,
		Service:   h.service,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	if len(checks) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			result := &CheckResult{
				Status:   StatusHealthy,
				Duration: elapsed.String(),
			}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()

				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}

			mu.Lock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = StatusUnhealthy
			}
			mu.Unlock()
		}(check)
	}

	wg.Wait()
	return status
}

// HealthHandler serves the full health report with uptime.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.runChecks(c.Request.Context())
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()

		c.JSON(httpStatus(status), status)
	}
}

// LivenessHandler reports that the process is serving.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusHealthy,
			"service":   h.service,
			"timestamp": time.Now().UTC(),
		})
	}
}

// ReadinessHandler runs the checks without the uptime report.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.runChecks(c.Request.Context())
		c.JSON(httpStatus(status), status)
	}
}

// RegisterRoutes mounts the probes on the engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthHandler())
	engine.GET("/livez", h.LivenessHandler())
	engine.GET("/readyz", h.ReadinessHandler())
}

// HTTPHandler serves the full health report on a plain http mux, for
// the metrics server.
func (h *Handler) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.runChecks(r.Context())
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(status))
		if err := json.NewEncoder(w).Encode(status); err != nil {
			h.logger.Error("failed to write health response", observability.Error(err))
		}
	})
}

func httpStatus(s *Status) int {
	if s.Status != StatusHealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
