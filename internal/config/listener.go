package config

// Listener protocols.
const (
	// ProtocolPlain serves plaintext HTTP.
	ProtocolPlain = "plain"
	// ProtocolTLS serves HTTPS with a server certificate.
	ProtocolTLS = "tls"
	// ProtocolMutualTLS serves HTTPS and requires a verified client
	// certificate during the handshake. Requests without one fail at the
	// TLS layer, before any application response.
	ProtocolMutualTLS = "mtls"
)

// Listener configures one inbound HTTP(S) listener.
type Listener struct {
	// Name identifies the listener in logs.
	Name string `yaml:"name"`

	// Bind is the bind address, defaulting to 0.0.0.0.
	Bind string `yaml:"bind,omitempty"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// Protocol is plain, tls, or mtls.
	Protocol string `yaml:"protocol"`

	// TLS carries the server certificate for tls and mtls listeners.
	TLS *ListenerTLS `yaml:"tls,omitempty"`
}

// ListenerTLS holds the server certificate configuration.
type ListenerTLS struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// GetEffectiveBind returns the bind address or its default.
func (l Listener) GetEffectiveBind() string {
	if l.Bind != "" {
		return l.Bind
	}
	return "0.0.0.0"
}
