package config

// Route is one entry of the ordered route table, mapping a path prefix
// to an authentication mode and an upstream.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string `yaml:"name"`

	// Prefix is the path prefix matched against the request path.
	Prefix string `yaml:"prefix"`

	// Mode is the authentication mode: none (alias public), apikey,
	// mtls, jwt, oidc, or direct.
	Mode string `yaml:"mode"`

	// StripPrefix removes the matched prefix before forwarding.
	StripPrefix bool `yaml:"stripPrefix,omitempty"`

	// Upstream is the base URL requests are forwarded to.
	Upstream string `yaml:"upstream"`

	// HideCredentials strips the request's credential before forwarding.
	// Unset defaults to true for apikey routes and false otherwise.
	HideCredentials *bool `yaml:"hideCredentials,omitempty"`

	// ClaimsPolicy is an optional CEL expression over the verified
	// claims, evaluated after verification on jwt and oidc routes.
	ClaimsPolicy string `yaml:"claimsPolicy,omitempty"`
}

// GetEffectiveHideCredentials resolves the hide-credentials default:
// API keys are secrets the upstream must never see, bearer tokens are
// forwarded so upstreams may re-validate.
func (r Route) GetEffectiveHideCredentials() bool {
	if r.HideCredentials != nil {
		return *r.HideCredentials
	}
	return r.Mode == "apikey"
}
