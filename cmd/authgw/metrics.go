package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dogcatcher/authgw/internal/health"
	"github.com/dogcatcher/authgw/internal/observability"
)

// createMetricsServer builds the operational server carrying the
// Prometheus endpoint and the health probes.
func createMetricsServer(
	port int,
	path string,
	metrics *observability.Metrics,
	probes *health.Handler,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	mux.Handle("/health", probes.HTTPHandler())
	mux.Handle("/readyz", probes.HTTPHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", path),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer serves until shutdown.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server when configured.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	metricsCfg := app.config.Observability.Metrics
	if !metricsCfg.Enabled {
		return
	}

	app.metricsServer = createMetricsServer(
		metricsCfg.GetEffectiveMetricsPort(),
		metricsCfg.GetEffectiveMetricsPath(),
		app.metrics,
		app.gateway.Health(),
		logger,
	)
	go runMetricsServer(app.metricsServer, logger)
}
