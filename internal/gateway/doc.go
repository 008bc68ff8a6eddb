// Package gateway assembles the authentication router: it builds the
// verifiers, route table, and policy evaluator from configuration,
// mounts the proxy pipeline and health probes on a gin engine, and
// serves it on the configured listeners. Reload swaps the route table,
// verifier set, and policies atomically; a failed reload keeps the
// previous state serving.
package gateway
