package router

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
)

// Route is one compiled entry of the dispatch table.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string

	// Prefix is the matched path prefix.
	Prefix string

	// Mode is the authentication strategy for matched requests.
	Mode auth.Mode

	// StripPrefix removes the matched prefix before forwarding.
	StripPrefix bool

	// Upstream is the parsed upstream base URL.
	Upstream *url.URL

	// HideCredentials strips the credential before forwarding.
	HideCredentials bool

	// ClaimsPolicy is the route's CEL policy source, empty when none.
	ClaimsPolicy string

	// Default marks the fallback route.
	Default bool
}

// RewritePath returns the upstream path for a matched request path,
// applying prefix stripping.
func (r *Route) RewritePath(path string) string {
	if !r.StripPrefix || r.Default {
		return path
	}

	rewritten := strings.TrimPrefix(path, r.Prefix)
	if !strings.HasPrefix(rewritten, "/") {
		rewritten = "/" + rewritten
	}
	return rewritten
}

// table is one immutable dispatch table.
type table struct {
	routes       []*Route
	defaultRoute *Route
}

// Router matches request paths against the route table.
type Router struct {
	current atomic.Pointer[table]
}

// New builds a router from the configured routes.
func New(routes []config.Route, defaultRoute *config.Route) (*Router, error) {
	t, err := compile(routes, defaultRoute)
	if err != nil {
		return nil, err
	}

	r := &Router{}
	r.current.Store(t)
	return r, nil
}

// compile parses and validates the route table.
func compile(routes []config.Route, defaultRoute *config.Route) (*table, error) {
	t := &table{routes: make([]*Route, 0, len(routes))}

	for i, rc := range routes {
		route, err := compileRoute(rc, false)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Name, err)
		}
		t.routes = append(t.routes, route)
	}

	if defaultRoute != nil {
		route, err := compileRoute(*defaultRoute, true)
		if err != nil {
			return nil, fmt.Errorf("default route: %w", err)
		}
		t.defaultRoute = route
	}

	return t, nil
}

func compileRoute(rc config.Route, isDefault bool) (*Route, error) {
	mode, err := auth.ParseMode(rc.Mode)
	if err != nil {
		return nil, err
	}

	upstream, err := url.Parse(rc.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", rc.Upstream, err)
	}
	if !upstream.IsAbs() || upstream.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute URL", rc.Upstream)
	}

	name := rc.Name
	if isDefault && name == "" {
		name = "default"
	}

	return &Route{
		Name:            name,
		Prefix:          rc.Prefix,
		Mode:            mode,
		StripPrefix:     rc.StripPrefix,
		Upstream:        upstream,
		HideCredentials: rc.GetEffectiveHideCredentials(),
		ClaimsPolicy:    rc.ClaimsPolicy,
		Default:         isDefault,
	}, nil
}

// Match returns the first route whose prefix matches path, or the
// default route. A request matching nothing yields a classified
// route-not-found error.
func (r *Router) Match(path string) (*Route, error) {
	t := r.current.Load()

	for _, route := range t.routes {
		if strings.HasPrefix(path, route.Prefix) {
			return route, nil
		}
	}

	if t.defaultRoute != nil {
		return t.defaultRoute, nil
	}

	return nil, auth.NewError(auth.ErrorTypeRouteNotFound,
		"route_not_found", fmt.Sprintf("no route matches %s", path))
}

// Reload swaps in a new route table. In-flight requests keep the table
// they matched against.
func (r *Router) Reload(routes []config.Route, defaultRoute *config.Route) error {
	t, err := compile(routes, defaultRoute)
	if err != nil {
		return err
	}
	r.current.Store(t)
	return nil
}

// Routes returns the current table's routes in match order, default
// route last when present.
func (r *Router) Routes() []*Route {
	t := r.current.Load()

	routes := make([]*Route, 0, len(t.routes)+1)
	routes = append(routes, t.routes...)
	if t.defaultRoute != nil {
		routes = append(routes, t.defaultRoute)
	}
	return routes
}
