package auth

import (
	"context"
	"net/http"
)

// Verifier executes one strategy's verification contract. Implementations
// are pure with respect to request state: repeating the same request
// yields the same identity and the same decision.
//
// Verify returns a verified identity or a classified *Error. It must fail
// closed: any ambiguous or partial result is an error, never an
// unverified identity. The context bounds external I/O (only the OIDC
// verifier performs any) and carries cancellation when the client
// disconnects.
type Verifier interface {
	// Mode returns the strategy this verifier implements.
	Mode() Mode

	// Verify inspects the request's credential and returns the verified
	// identity.
	Verify(ctx context.Context, r *http.Request) (*Identity, error)
}
