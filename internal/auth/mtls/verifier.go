package mtls

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Verifier implements the mtls strategy over the certificates the TLS
// layer captured during the handshake.
type Verifier struct {
	trust  *TrustStore
	cfg    *config.MTLSConfig
	logger observability.Logger

	ownsTrust bool
}

// VerifierOption configures the verifier.
type VerifierOption func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithTrustStore supplies a shared trust store. The caller remains
// responsible for closing it.
func WithTrustStore(trust *TrustStore) VerifierOption {
	return func(v *Verifier) {
		v.trust = trust
		v.ownsTrust = false
	}
}

// NewVerifier creates the mtls verifier, building a trust store from the
// configuration unless one is supplied.
func NewVerifier(cfg *config.MTLSConfig, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mtls configuration is required")
	}

	v := &Verifier{
		cfg:       cfg,
		logger:    observability.NopLogger(),
		ownsTrust: true,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.trust == nil {
		trust, err := NewTrustStore(cfg, WithTrustStoreLogger(v.logger))
		if err != nil {
			return nil, err
		}
		v.trust = trust
		v.ownsTrust = true
	}

	return v, nil
}

// Mode returns the strategy this verifier implements.
func (v *Verifier) Mode() auth.Mode {
	return auth.ModeMutualTLS
}

// TrustStore returns the verifier's trust store, for wiring the CA pool
// into the listener's TLS configuration.
func (v *Verifier) TrustStore() *TrustStore {
	return v.trust
}

// Verify checks the peer certificate the handshake presented: chain
// trust against the CA pool, the validity window, and revocation.
func (v *Verifier) Verify(_ context.Context, r *http.Request) (*auth.Identity, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, auth.WrapError(auth.ErrorTypeCredentialMissing,
			"certificate_missing", "client certificate required", auth.ErrCertificateRequired)
	}

	leaf := r.TLS.PeerCertificates[0]
	intermediates := r.TLS.PeerCertificates[1:]

	// Window first so expiry gets its own audit reason; chain
	// verification would also reject an expired leaf.
	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"certificate_expired", "client certificate expired or not yet valid",
			auth.ErrCertificateExpired)
	}

	if err := v.verifyChain(leaf, intermediates); err != nil {
		return nil, err
	}

	if v.cfg.Revocation != nil && v.cfg.Revocation.Enabled && v.trust.IsRevoked(leaf) {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"certificate_revoked", "client certificate revoked", auth.ErrCertificateRevoked)
	}

	subjectDN := leaf.Subject.String()
	v.logger.Debug("client certificate verified",
		observability.String("subject", subjectDN),
		observability.String("serial", leaf.SerialNumber.String()),
	)

	return &auth.Identity{
		Mode:       auth.ModeMutualTLS,
		Verified:   true,
		Principal:  subjectDN,
		ExpiresAt:  leaf.NotAfter,
		VerifiedAt: now,
	}, nil
}

// verifyChain verifies the leaf against the trust store's CA pool.
func (v *Verifier) verifyChain(leaf *x509.Certificate, intermediates []*x509.Certificate) error {
	opts := x509.VerifyOptions{
		Roots:         v.trust.Pool(),
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	for _, cert := range intermediates {
		opts.Intermediates.AddCert(cert)
	}

	if _, err := leaf.Verify(opts); err != nil {
		return auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"certificate_untrusted", "client certificate not trusted",
			fmt.Errorf("%w: %w", auth.ErrCertificateUntrusted, err))
	}
	return nil
}

// Close releases the trust store when the verifier owns it.
func (v *Verifier) Close() error {
	if v.ownsTrust {
		return v.trust.Close()
	}
	return nil
}

// Ensure Verifier implements auth.Verifier.
var _ auth.Verifier = (*Verifier)(nil)
