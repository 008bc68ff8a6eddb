// Package router dispatches requests to routes by path prefix.
//
// The table preserves configuration order and the first matching prefix
// wins, so operators control precedence by ordering routes. Paths that
// match nothing fall through to the default route when one is
// configured. Reloads swap the whole table atomically; in-flight
// requests keep the table they matched against.
package router
