package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"

	"github.com/dogcatcher/authgw/internal/observability"
)

// Output destinations.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// Config configures the decision log.
type Config struct {
	// Enabled turns the decision log on. Disabled yields a no-op logger.
	Enabled bool `yaml:"enabled"`

	// Output selects the destination: stdout, stderr, or file.
	Output string `yaml:"output,omitempty"`

	// FilePath is the log file when Output is file.
	FilePath string `yaml:"filePath,omitempty"`
}

// Logger records authentication decisions.
type Logger interface {
	// Record writes one decision event.
	Record(ctx context.Context, event *Event)

	// Close flushes and closes the destination.
	Close() error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
	log    observability.Logger
	events *prometheus.CounterVec
}

// Option is a functional option for the logger.
type Option func(*logger)

// WithLogger sets the diagnostic logger used for write failures.
func WithLogger(log observability.Logger) Option {
	return func(l *logger) {
		l.log = log
	}
}

// WithRegisterer registers a new decision counter on reg. Registering
// twice on the same registry panics; callers that rebuild the logger on
// reload create the counter once with NewEventsCounter and pass it
// through WithCounter instead.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *logger) {
		l.events = NewEventsCounter(reg)
	}
}

// WithCounter attaches an existing decision counter.
func WithCounter(events *prometheus.CounterVec) Option {
	return func(l *logger) {
		l.events = events
	}
}

// NewEventsCounter creates and registers the decision event counter.
func NewEventsCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	return promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgw",
			Name:      "audit_events_total",
			Help:      "Authentication decision events by outcome and reason",
		},
		[]string{"outcome", "mode", "reason"},
	)
}

// NewLogger creates a decision logger for the configured destination.
// A nil or disabled config yields a no-op logger.
func NewLogger(cfg *Config, opts ...Option) (Logger, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNopLogger(), nil
	}

	l := &logger{log: observability.NopLogger()}
	for _, opt := range opts {
		opt(l)
	}

	switch cfg.Output {
	case OutputStdout, "":
		l.writer = os.Stdout
	case OutputStderr:
		l.writer = os.Stderr
	case OutputFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("audit: file output requires filePath")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to open %s: %w", cfg.FilePath, err)
		}
		l.writer = f
		l.closer = f
	default:
		return nil, fmt.Errorf("audit: unknown output %q", cfg.Output)
	}

	return l, nil
}

// Record writes one decision event as a JSON line.
func (l *logger) Record(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}

	if l.events != nil {
		l.events.WithLabelValues(string(event.Outcome), event.Mode, event.Reason).Inc()
	}

	data, err := json.Marshal(event)
	if err != nil {
		l.log.Error("failed to marshal audit event", observability.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.log.Error("failed to write audit event", observability.Error(err))
	}
}

// Close closes the file destination when one is open.
func (l *logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

var _ Logger = (*logger)(nil)

// nopLogger discards all events.
type nopLogger struct{}

// NewNopLogger returns a logger that discards all events.
func NewNopLogger() Logger {
	return &nopLogger{}
}

func (*nopLogger) Record(context.Context, *Event) {}

func (*nopLogger) Close() error { return nil }
