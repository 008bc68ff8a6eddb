// Package middleware provides the HTTP middleware wrapping the request
// pipeline: request IDs, access logging, panic recovery, and inbound
// rate limiting.
package middleware
