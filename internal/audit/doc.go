// Package audit emits the security decision log: one structured JSON
// line per authentication decision, carrying the stable machine-readable
// reason alongside the principal and route. Credentials never appear in
// events; API keys are logged only as the resolved consumer username and
// tokens are never logged at all.
package audit
