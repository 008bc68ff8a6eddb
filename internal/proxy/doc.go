// Package proxy runs the request pipeline: dispatch the path to a
// route, strip the gateway-owned identity headers the client may have
// sent, verify the credential for the route's mode, evaluate the
// route's claims policy, render the verified identity into upstream
// headers, and forward to the route's upstream.
//
// The inbound strip is the trust boundary. A client-supplied
// X-Auth-Verified header never reaches the upstream, set or unset,
// whatever the verification outcome.
package proxy
