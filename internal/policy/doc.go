// Package policy evaluates per-route claims policies over verified
// identities. A policy is a CEL expression compiled once at
// configuration load; anything other than a true result denies the
// request.
package policy
