package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogcatcher/authgw/internal/auth/mtls"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Server timeouts shared by every listener.
const (
	readTimeout       = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 1 << 20
)

// Listener serves the gateway handler on one configured port.
type Listener struct {
	config  config.Listener
	server  *http.Server
	handler http.Handler
	trust   *mtls.TrustStore
	logger  observability.Logger
	running atomic.Bool

	mu        sync.Mutex
	boundAddr string
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithTrustStore supplies the client CA pool for mtls listeners.
func WithTrustStore(trust *mtls.TrustStore) ListenerOption {
	return func(l *Listener) {
		l.trust = trust
	}
}

// NewListener creates a listener for cfg serving handler.
func NewListener(
	cfg config.Listener,
	handler http.Handler,
	opts ...ListenerOption,
) (*Listener, error) {
	l := &Listener{
		config:  cfg,
		handler: handler,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	switch cfg.Protocol {
	case config.ProtocolPlain:
	case config.ProtocolTLS:
		if cfg.TLS == nil {
			return nil, fmt.Errorf("listener %s: tls protocol requires a server certificate", cfg.Name)
		}
	case config.ProtocolMutualTLS:
		if cfg.TLS == nil {
			return nil, fmt.Errorf("listener %s: mtls protocol requires a server certificate", cfg.Name)
		}
		if l.trust == nil {
			return nil, fmt.Errorf("listener %s: mtls protocol requires a trust store", cfg.Name)
		}
	default:
		return nil, fmt.Errorf("listener %s: unknown protocol %q", cfg.Name, cfg.Protocol)
	}

	return l, nil
}

// Name returns the listener name.
func (l *Listener) Name() string {
	return l.config.Name
}

// Address returns the configured bind address.
func (l *Listener) Address() string {
	return fmt.Sprintf("%s:%d", l.config.GetEffectiveBind(), l.config.Port)
}

// BoundAddr returns the address the listener actually bound, which
// differs from Address when the configured port is 0.
func (l *Listener) BoundAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.boundAddr
}

// IsRunning reports whether the listener is serving.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}

// Start binds the port and begins serving in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.config.Name)
	}

	addr := l.Address()

	l.server = &http.Server{
		Addr:              addr,
		Handler:           l.handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if l.config.Protocol != config.ProtocolPlain {
		tlsConfig, err := l.tlsConfig()
		if err != nil {
			return err
		}
		l.server.TLSConfig = tlsConfig
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l.mu.Lock()
	l.boundAddr = ln.Addr().String()
	l.mu.Unlock()

	l.running.Store(true)

	l.logger.Info("listener started",
		observability.String("name", l.config.Name),
		observability.String("address", addr),
		observability.String("protocol", l.config.Protocol),
	)

	go l.serve(ln)

	return nil
}

// tlsConfig builds the server TLS configuration. For mtls listeners the
// client CA pool is resolved per handshake through GetConfigForClient so
// a reloaded trust store applies to new connections without a restart.
func (l *Listener) tlsConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(l.config.TLS.CertFile, l.config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("listener %s: failed to load server certificate: %w",
			l.config.Name, err)
	}

	base := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if l.config.Protocol == config.ProtocolMutualTLS {
		trust := l.trust
		base.ClientAuth = tls.RequireAndVerifyClientCert
		base.ClientCAs = trust.Pool()
		base.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
			cfg := base.Clone()
			cfg.ClientCAs = trust.Pool()
			return cfg, nil
		}
	}

	return base, nil
}

func (l *Listener) serve(ln net.Listener) {
	var err error
	if l.server.TLSConfig != nil {
		// Certificates are carried in TLSConfig, not in files.
		err = l.server.ServeTLS(ln, "", "")
	} else {
		err = l.server.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("name", l.config.Name),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop drains the listener gracefully, closing it hard when ctx expires.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener",
		observability.String("name", l.config.Name),
	)

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	l.running.Store(false)

	l.logger.Info("listener stopped",
		observability.String("name", l.config.Name),
	)

	return nil
}
