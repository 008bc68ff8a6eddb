package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dogcatcher/authgw/internal/audit"
	"github.com/dogcatcher/authgw/internal/cache"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/health"
	"github.com/dogcatcher/authgw/internal/middleware"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/proxy"
	"github.com/dogcatcher/authgw/internal/router"
)

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Sentinel errors for lifecycle operations.
var (
	// ErrNotStopped indicates a start was attempted outside the
	// stopped state.
	ErrNotStopped = errors.New("gateway is not in stopped state")

	// ErrNotRunning indicates a stop was attempted outside the
	// running state.
	ErrNotRunning = errors.New("gateway is not running")

	// ErrNilConfig indicates a nil configuration was provided.
	ErrNilConfig = errors.New("configuration is required")
)

// Gateway assembles and serves the authentication router.
type Gateway struct {
	logger      observability.Logger
	metrics     *observability.Metrics
	middlewares []middleware.Middleware

	table      *router.Router
	pipeline   *proxy.Pipeline
	decisions  *audit.AtomicLogger
	results    cache.Cache
	probes     *health.Handler
	probeRedis *redis.Client

	engine    *gin.Engine
	listeners []*Listener

	state     atomic.Int32
	startTime time.Time

	auditEvents *prometheus.CounterVec

	mu        sync.Mutex
	config    *config.Config
	wiring    *wiring
	closeOnce sync.Once

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics recorder wired through the pipeline.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithMiddlewares sets the handler chain wrapped around the pipeline,
// outermost first.
func WithMiddlewares(mws ...middleware.Middleware) Option {
	return func(g *Gateway) {
		g.middlewares = mws
	}
}

// WithShutdownTimeout sets the graceful shutdown bound.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// New builds the gateway from a validated configuration: result cache,
// verifier set, route table, decision log, proxy pipeline, and health
// probes. Listeners are created at Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		shutdownTimeout: cfg.GetEffectiveShutdownTimeout(),
	}

	for _, opt := range opts {
		opt(g)
	}

	results, err := cache.New(ctx, cfg.Cache, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	g.results = results

	w, err := buildWiring(ctx, cfg, results, nil, g.logger)
	if err != nil {
		_ = results.Close()
		return nil, err
	}
	g.wiring = w

	table, err := router.New(cfg.Routes, cfg.DefaultRoute)
	if err != nil {
		g.closeComponents()
		return nil, err
	}
	g.table = table

	decisions, err := g.newDecisionLogger(cfg)
	if err != nil {
		g.closeComponents()
		return nil, err
	}
	g.decisions = audit.NewAtomicLogger(decisions)

	proxyOpts := []proxy.Option{
		proxy.WithLogger(g.logger),
		proxy.WithDecisionLog(g.decisions),
	}
	if g.metrics != nil {
		proxyOpts = append(proxyOpts, proxy.WithMetrics(g.metrics))
	}
	g.pipeline = proxy.New(table, w.proxy, proxyOpts...)

	g.probes = health.NewHandler(cfg.Name, health.WithLogger(g.logger))
	g.registerChecks(cfg)

	g.state.Store(int32(StateStopped))

	return g, nil
}

// newDecisionLogger builds the decision log for cfg. The event counter
// is created once and shared across reloads; registering a second
// counter on the same registry would panic.
func (g *Gateway) newDecisionLogger(cfg *config.Config) (audit.Logger, error) {
	if g.auditEvents == nil && g.metrics != nil {
		g.auditEvents = audit.NewEventsCounter(g.metrics.Registry())
	}

	opts := []audit.Option{audit.WithLogger(g.logger)}
	if g.auditEvents != nil {
		opts = append(opts, audit.WithCounter(g.auditEvents))
	}
	decisions, err := audit.NewLogger(cfg.Audit, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision log: %w", err)
	}
	return decisions, nil
}

// registerChecks wires the readiness checks for the configured modes.
func (g *Gateway) registerChecks(cfg *config.Config) {
	if g.wiring.trustStore != nil {
		g.probes.AddCheck(health.NewCheckFunc("trust_store", func(context.Context) error {
			trust := g.currentWiring().trustStore
			if trust == nil || trust.LoadedAt().IsZero() {
				return errors.New("trust store is not loaded")
			}
			return nil
		}))
	}

	if g.wiring.apiKey != nil {
		g.probes.AddCheck(health.NewCheckFunc("consumer_registry", func(context.Context) error {
			verifier := g.currentWiring().apiKey
			if verifier == nil || verifier.ConsumerCount() == 0 {
				return errors.New("consumer registry is empty")
			}
			return nil
		}))
	}

	if cfg.OIDC != nil && cfg.OIDC.IssuerURL != "" {
		discoveryURL := cfg.OIDC.IssuerURL + "/.well-known/openid-configuration"
		g.probes.AddCheck(health.HTTPCheck("oidc_discovery", discoveryURL, nil))
	}

	if cfg.Cache.GetEffectiveBackend() == config.CacheBackendRedis && cfg.Cache.Redis != nil {
		g.probeRedis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		g.probes.AddCheck(health.RedisCheck("cache", g.probeRedis))
	}
}

func (g *Gateway) currentWiring() *wiring {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wiring
}

// Start mounts the handler and begins serving on every listener.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	cfg := g.Config()

	g.logger.Info("starting gateway",
		observability.String("name", cfg.Name),
	)

	gin.SetMode(gin.ReleaseMode)
	g.engine = gin.New()
	g.probes.RegisterRoutes(g.engine)

	handler := middleware.Chain(g.pipeline, g.middlewares...)
	g.engine.NoRoute(gin.WrapH(handler))

	if err := g.createListeners(cfg); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to create listeners: %w", err)
	}

	for _, listener := range g.listeners {
		if err := listener.Start(ctx); err != nil {
			g.stopListeners(ctx)
			g.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to start listener %s: %w", listener.Name(), err)
		}
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", cfg.Name),
		observability.Int("listeners", len(g.listeners)),
		observability.Int("routes", len(g.table.Routes())),
	)

	return nil
}

// createListeners builds the listeners from configuration. The mtls
// listeners share the verifier's trust store for their client CA pool.
func (g *Gateway) createListeners(cfg *config.Config) error {
	g.listeners = make([]*Listener, 0, len(cfg.Listeners))

	for _, listenerCfg := range cfg.Listeners {
		opts := []ListenerOption{WithListenerLogger(g.logger)}
		if listenerCfg.Protocol == config.ProtocolMutualTLS {
			opts = append(opts, WithTrustStore(g.currentWiring().trustStore))
		}

		listener, err := NewListener(listenerCfg, g.engine, opts...)
		if err != nil {
			return err
		}
		g.listeners = append(g.listeners, listener)
	}

	return nil
}

// Stop drains the listeners and releases the verifier set.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	cfg := g.Config()

	g.logger.Info("stopping gateway",
		observability.String("name", cfg.Name),
	)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	g.stopListeners(ctx)
	g.closeComponents()

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped",
		observability.String("name", cfg.Name),
	)

	return nil
}

// closeComponents releases the verifier set, decision log, and cache.
// Safe to call once whether or not the gateway ever started.
func (g *Gateway) closeComponents() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		w := g.wiring
		g.mu.Unlock()

		if w != nil {
			w.close()
		}
		if g.decisions != nil {
			_ = g.decisions.Close()
		}
		if g.results != nil {
			_ = g.results.Close()
		}
		if g.probeRedis != nil {
			_ = g.probeRedis.Close()
		}
	})
}

// stopListeners drains all listeners concurrently.
func (g *Gateway) stopListeners(ctx context.Context) {
	var wg sync.WaitGroup

	for _, listener := range g.listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Stop(ctx); err != nil {
				g.logger.Error("failed to stop listener",
					observability.String("name", l.Name()),
					observability.Error(err),
				)
			}
		}(listener)
	}

	wg.Wait()
}

// Reload validates cfg and atomically swaps the route table, verifier
// set, compiled policies, and decision log. A failed reload leaves the
// previous state serving. Listener and cache topology changes require a
// restart and are ignored here.
func (g *Gateway) Reload(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.String("name", cfg.Name),
	)

	newWiring, err := buildWiring(ctx, cfg, g.results, g.wiring.trustStore, g.logger)
	if err != nil {
		return fmt.Errorf("failed to build verifiers: %w", err)
	}

	if err := g.table.Reload(cfg.Routes, cfg.DefaultRoute); err != nil {
		newWiring.close()
		return err
	}

	newDecisions, err := g.newDecisionLogger(cfg)
	if err != nil {
		newWiring.close()
		return err
	}

	g.pipeline.Rewire(newWiring.proxy)
	oldDecisions := g.decisions.Swap(newDecisions)
	_ = oldDecisions.Close()

	oldWiring := g.wiring
	g.wiring = newWiring
	g.config = cfg

	// The trust store survives the swap; ownership moves to the new set
	// so the outgoing set's delayed close leaves it running.
	newWiring.ownsTrust = newWiring.ownsTrust || oldWiring.ownsTrust
	oldWiring.ownsTrust = false

	// In-flight requests may still hold the old verifier set through the
	// pipeline snapshot; its verifiers only release watchers and stores,
	// which stay usable until closed, so a short grace is enough.
	go func() {
		time.Sleep(g.shutdownTimeout)
		oldWiring.close()
	}()

	g.logger.Info("gateway configuration reloaded",
		observability.String("name", cfg.Name),
		observability.Int("routes", len(cfg.Routes)),
	)

	return nil
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning reports whether the gateway is serving.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the time since the gateway started.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}

// Health returns the probe handler, for mounting on the metrics server.
func (g *Gateway) Health() *health.Handler {
	return g.probes
}

// Router returns the route table.
func (g *Gateway) Router() *router.Router {
	return g.table
}

// Listeners returns the gateway's listeners.
func (g *Gateway) Listeners() []*Listener {
	return g.listeners
}
