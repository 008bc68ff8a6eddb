// Package util provides small helpers shared across the router packages.
package util

import (
	"context"
	"time"
)

type ctxKey string

const (
	ctxKeyStartTime ctxKey = "start_time"
	ctxKeyRouteInfo ctxKey = "route_info"
)

// routeInfo is a mutable holder installed by the outer middleware and
// filled by the dispatcher, so middleware that runs after the handler
// can label by route and mode. One request sees it from one goroutine.
type routeInfo struct {
	route string
	mode  string
}

// ContextWithStartTime stores the request start time in the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext returns the request start time, or the zero time.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// EnsureRouteInfo installs the route holder if the context has none.
func EnsureRouteInfo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ctxKeyRouteInfo).(*routeInfo); ok {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRouteInfo, &routeInfo{})
}

// SetRouteInfo records the matched route and mode in the holder. A
// context without a holder drops the values.
func SetRouteInfo(ctx context.Context, route, mode string) context.Context {
	if ri, ok := ctx.Value(ctxKeyRouteInfo).(*routeInfo); ok {
		ri.route = route
		ri.mode = mode
		return ctx
	}
	ri := &routeInfo{route: route, mode: mode}
	return context.WithValue(ctx, ctxKeyRouteInfo, ri)
}

// RouteFromContext returns the matched route name, or "".
func RouteFromContext(ctx context.Context) string {
	if ri, ok := ctx.Value(ctxKeyRouteInfo).(*routeInfo); ok {
		return ri.route
	}
	return ""
}

// AuthModeFromContext returns the resolved authentication mode name, or "".
func AuthModeFromContext(ctx context.Context) string {
	if ri, ok := ctx.Value(ctxKeyRouteInfo).(*routeInfo); ok {
		return ri.mode
	}
	return ""
}
