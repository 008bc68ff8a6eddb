package jwt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Verifier implements the jwt strategy.
type Verifier struct {
	cfg       *config.JWTConfig
	keySet    KeySet
	allowed   map[string]struct{}
	clockSkew time.Duration
	logger    observability.Logger
}

// VerifierOption configures the verifier.
type VerifierOption func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithKeySet overrides the verification key set.
func WithKeySet(keySet KeySet) VerifierOption {
	return func(v *Verifier) {
		v.keySet = keySet
	}
}

// NewVerifier creates the jwt verifier from configuration.
func NewVerifier(cfg *config.JWTConfig, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("jwt configuration is required")
	}
	if len(cfg.Algorithms) == 0 {
		return nil, fmt.Errorf("at least one allowed algorithm is required")
	}

	allowed := make(map[string]struct{}, len(cfg.Algorithms))
	for _, alg := range cfg.Algorithms {
		if strings.EqualFold(alg, "none") {
			return nil, fmt.Errorf("the none algorithm cannot be allowed")
		}
		allowed[alg] = struct{}{}
	}

	v := &Verifier{
		cfg:       cfg,
		allowed:   allowed,
		clockSkew: cfg.GetEffectiveClockSkew(),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.keySet == nil {
		keySet, err := NewKeySet(cfg, v.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create key set: %w", err)
		}
		v.keySet = keySet
	}

	return v, nil
}

// Mode returns the strategy this verifier implements.
func (v *Verifier) Mode() auth.Mode {
	return auth.ModeJWT
}

// Verify checks the bearer token: shape, algorithm allow-list,
// signature, validity window with clock skew, issuer, and audience.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	raw := BearerToken(r)
	if raw == "" {
		return nil, auth.WrapError(auth.ErrorTypeCredentialMissing,
			"token_missing", "bearer token required", auth.ErrTokenMissing)
	}

	token, err := Parse(raw)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_malformed", "malformed token", fmt.Errorf("%w: %w", auth.ErrTokenMalformed, err))
	}

	return v.VerifyToken(ctx, token)
}

// VerifyToken verifies an already parsed token. The OIDC verifier uses
// this path for local validation.
func (v *Verifier) VerifyToken(ctx context.Context, token *Token) (*auth.Identity, error) {
	if _, ok := v.allowed[token.Header.Algorithm]; !ok {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"algorithm_not_allowed",
			fmt.Sprintf("signing algorithm %q is not allowed", token.Header.Algorithm),
			auth.ErrTokenMalformed)
	}

	key, err := v.keySet.Key(ctx, token.Header.KeyID, token.Header.Algorithm)
	if err != nil {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_signature", "token signature verification failed",
			fmt.Errorf("%w: %w", auth.ErrTokenSignature, err))
	}

	if err := verifySignature(token.Header.Algorithm, key, token.SigningInput, token.Signature); err != nil {
		return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_signature", "token signature verification failed",
			fmt.Errorf("%w: %w", auth.ErrTokenSignature, err))
	}

	if err := v.validateClaims(&token.Claims); err != nil {
		return nil, err
	}

	v.logger.Debug("jwt verified",
		observability.String("subject", token.Claims.Subject),
		observability.String("issuer", token.Claims.Issuer),
	)

	return &auth.Identity{
		Mode:       auth.ModeJWT,
		Verified:   true,
		Principal:  token.Claims.Subject,
		Claims:     token.Claims.Raw,
		ExpiresAt:  token.Claims.ExpiresAt,
		VerifiedAt: time.Now(),
	}, nil
}

// validateClaims checks the validity window and the configured issuer
// and audience.
func (v *Verifier) validateClaims(claims *Claims) error {
	now := time.Now()

	if !claims.ExpiresAt.IsZero() && now.After(claims.ExpiresAt.Add(v.clockSkew)) {
		return auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_expired", "token expired", auth.ErrTokenExpired)
	}
	if !claims.NotBefore.IsZero() && now.Before(claims.NotBefore.Add(-v.clockSkew)) {
		return auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"token_not_yet_valid", "token not yet valid", auth.ErrTokenNotYetValid)
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"issuer_mismatch", "token issuer mismatch", auth.ErrIssuerMismatch)
	}

	if v.cfg.Audience != "" && !claims.HasAudience(v.cfg.Audience) {
		return auth.WrapError(auth.ErrorTypeCredentialInvalid,
			"audience_mismatch", "token audience mismatch", auth.ErrAudienceMismatch)
	}

	return nil
}

// Close releases the key set.
func (v *Verifier) Close() error {
	return v.keySet.Close()
}

// BearerToken extracts the token from the Authorization header. The
// Bearer scheme is matched case-insensitively.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Ensure Verifier implements auth.Verifier.
var _ auth.Verifier = (*Verifier)(nil)
