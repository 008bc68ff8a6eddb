package main

import (
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/middleware"
	"github.com/dogcatcher/authgw/internal/observability"
)

// buildMiddlewareChain assembles the handler chain wrapped around the
// dispatch pipeline, outermost first: the rate limiter rejects before
// any per-request work is spent, recovery sits directly around the
// pipeline where panics can originate. The returned limiter is nil when
// rate limiting is disabled.
func buildMiddlewareChain(
	cfg *config.Config,
	logger observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) ([]middleware.Middleware, *middleware.RateLimiter) {
	rateLimit, rateLimiter := middleware.RateLimitFromConfig(cfg.RateLimit,
		middleware.WithRateLimiterLogger(logger),
		middleware.WithRateLimiterMetrics(metrics),
	)

	chain := []middleware.Middleware{
		rateLimit,
		observability.MetricsMiddleware(metrics),
		observability.TracingMiddleware(tracer),
		middleware.Logging(logger),
		middleware.RequestID(),
		middleware.Recovery(logger),
	}

	return chain, rateLimiter
}
