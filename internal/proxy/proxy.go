package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dogcatcher/authgw/internal/audit"
	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/policy"
	"github.com/dogcatcher/authgw/internal/router"
	"github.com/dogcatcher/authgw/internal/util"
)

// Wiring is the swappable verification state of the pipeline. A
// configuration reload builds a new Wiring and swaps it in whole;
// in-flight requests finish on the one they started with.
type Wiring struct {
	// Verifiers maps each configured mode to its verifier.
	Verifiers map[auth.Mode]auth.Verifier

	// Policies holds the compiled per-route claims policies, nil when
	// no route declares one.
	Policies *policy.Evaluator

	// APIKeyHeader and APIKeyQuery name the credential carriers
	// stripped on hideCredentials API key routes.
	APIKeyHeader string
	APIKeyQuery  string
}

// Pipeline is the dispatch + verify + forward request handler.
type Pipeline struct {
	router        *router.Router
	wiring        atomic.Pointer[Wiring]
	logger        observability.Logger
	metrics       *observability.Metrics
	decisions     audit.Logger
	transport     http.RoundTripper
	flushInterval time.Duration
	ws            *websocketProxy
}

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDecisionLog sets the authentication decision logger.
func WithDecisionLog(l audit.Logger) Option {
	return func(p *Pipeline) {
		p.decisions = l
	}
}

// WithTransport sets the upstream transport.
func WithTransport(t http.RoundTripper) Option {
	return func(p *Pipeline) {
		p.transport = t
	}
}

// WithFlushInterval sets the streaming flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.flushInterval = d
	}
}

// New creates the pipeline over the given router and wiring.
func New(rt *router.Router, w *Wiring, opts ...Option) *Pipeline {
	p := &Pipeline{
		router:        rt,
		logger:        observability.NopLogger(),
		decisions:     audit.NewNopLogger(),
		flushInterval: -1,
	}
	p.Rewire(w)

	for _, opt := range opts {
		opt(p)
	}

	p.ws = &websocketProxy{logger: p.logger}
	return p
}

// Rewire swaps the verification wiring atomically.
func (p *Pipeline) Rewire(w *Wiring) {
	if w == nil {
		w = &Wiring{}
	}
	p.wiring.Store(w)
}

// ServeHTTP runs the full pipeline for one request.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := p.router.Match(r.URL.Path)
	if err != nil {
		p.deny(w, r, nil, err)
		return
	}

	ctx := util.SetRouteInfo(r.Context(), route.Name, route.Mode.String())
	r = r.WithContext(ctx)

	// Trust boundary: client-supplied identity headers never pass
	// through, whatever the verification outcome.
	stripIdentityHeaders(r.Header)

	wiring := p.wiring.Load()

	identity, err := p.verify(r, route, wiring)
	if err != nil {
		p.deny(w, r, route, err)
		return
	}

	if wiring.Policies != nil && route.ClaimsPolicy != "" {
		if err := wiring.Policies.Evaluate(ctx, route.Name, identity); err != nil {
			p.deny(w, r, route, err)
			return
		}
	}

	r = r.WithContext(auth.ContextWithIdentity(ctx, identity))

	setIdentityHeaders(r.Header, identity)
	if route.HideCredentials {
		stripCredentials(r, route.Mode, wiring.apiKeyHeader(), wiring.apiKeyQuery())
	}

	if route.Mode.RequiresVerifier() {
		p.record(r, route, identity, nil)
	}

	p.forward(w, r, route)
}

// verify runs the route's verifier and records the attempt. Modes
// without a verifier yield a public or pass-through identity.
func (p *Pipeline) verify(r *http.Request, route *router.Route, wiring *Wiring) (*auth.Identity, error) {
	switch {
	case route.Mode == auth.ModeNone:
		return auth.PublicIdentity(), nil
	case route.Mode == auth.ModeDirect:
		return &auth.Identity{Mode: auth.ModeDirect}, nil
	}

	verifier, ok := wiring.Verifiers[route.Mode]
	if !ok {
		// Configuration and wiring are validated together, so a missing
		// verifier is a programming error. Fail closed.
		return nil, auth.NewError(auth.ErrorTypeInternal,
			"verifier_missing", "authentication unavailable")
	}

	start := time.Now()
	identity, err := verifier.Verify(r.Context(), r)
	elapsed := time.Since(start)

	if p.metrics != nil {
		result, reason := "success", "ok"
		if err != nil {
			result, reason = "failure", auth.ReasonOf(err)
		}
		p.metrics.RecordAuthValidation(route.Mode.String(), result, reason, elapsed)
	}

	if err != nil {
		return nil, err
	}
	return identity, nil
}

// deny rejects the request and records the decision.
func (p *Pipeline) deny(w http.ResponseWriter, r *http.Request, route *router.Route, err error) {
	mode := auth.ModeNone
	if route != nil {
		mode = route.Mode
	}

	p.logger.Debug("request denied",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("reason", auth.ReasonOf(err)),
		observability.Error(err),
	)

	p.record(r, route, nil, err)
	auth.WriteError(w, err, mode)
}

// record emits one decision event.
func (p *Pipeline) record(r *http.Request, route *router.Route, identity *auth.Identity, denial error) {
	var event *audit.Event
	if denial == nil {
		event = audit.NewEvent(audit.OutcomeAllowed, route.Mode.String(), "ok")
		if identity != nil {
			event.Principal = identity.Principal
		}
		event.Status = http.StatusOK
	} else {
		mode := ""
		if route != nil {
			mode = route.Mode.String()
		}
		event = audit.NewEvent(audit.OutcomeDenied, mode, auth.ReasonOf(denial))
		if route != nil {
			event.Status = auth.HTTPStatus(denial, route.Mode)
		} else {
			event.Status = http.StatusNotFound
		}
	}

	if route != nil {
		event.Route = route.Name
	}
	event.Method = r.Method
	event.Path = r.URL.Path
	event.RemoteAddr = r.RemoteAddr
	event.RequestID = observability.RequestIDFromContext(r.Context())

	p.decisions.Record(r.Context(), event)
}

// forward proxies the request to the route's upstream.
func (p *Pipeline) forward(w http.ResponseWriter, r *http.Request, route *router.Route) {
	r.URL.Path = route.RewritePath(r.URL.Path)

	if isWebSocketUpgrade(r) {
		if err := p.ws.proxy(w, r, route.Upstream, p.transport); err != nil {
			p.logger.Warn("websocket proxy failed",
				observability.String("route", route.Name),
				observability.Error(err),
			)
			if p.metrics != nil {
				p.metrics.RecordUpstreamError(route.Name)
			}
		}
		return
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			p.director(req, route.Upstream)
		},
		Transport:     p.transport,
		FlushInterval: p.flushInterval,
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			p.upstreamError(rw, req, route, err)
		},
	}

	rp.ServeHTTP(w, r)
}

// director rewrites the outbound request for the upstream.
func (p *Pipeline) director(req *http.Request, target *url.URL) {
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	if target.Path != "" && target.Path != "/" {
		req.URL.Path = singleJoin(target.Path, req.URL.Path)
	}

	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// X-Forwarded-For is appended by httputil.ReverseProxy itself.
	proto := "http"
	if req.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	req.Header.Set("X-Forwarded-Host", req.Host)

	req.Host = target.Host
}

// upstreamError converts a dial or round-trip failure into 502.
func (p *Pipeline) upstreamError(w http.ResponseWriter, r *http.Request, route *router.Route, err error) {
	p.logger.Error("upstream request failed",
		observability.String("route", route.Name),
		observability.String("upstream", route.Upstream.Host),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)
	if p.metrics != nil {
		p.metrics.RecordUpstreamError(route.Name)
	}

	auth.WriteJSONError(w, http.StatusBadGateway, "upstream request failed")
}

// isWebSocketUpgrade reports whether the request asks for a WebSocket
// upgrade.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// singleJoin joins two path segments with exactly one slash.
func singleJoin(a, b string) string {
	switch {
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}

func (w *Wiring) apiKeyHeader() string {
	if w.APIKeyHeader != "" {
		return w.APIKeyHeader
	}
	return "X-API-Key"
}

func (w *Wiring) apiKeyQuery() string {
	if w.APIKeyQuery != "" {
		return w.APIKeyQuery
	}
	return "apikey"
}

var _ http.Handler = (*Pipeline)(nil)
