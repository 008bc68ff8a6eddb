package apikey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/vault"
)

// Verifier implements the apikey strategy.
type Verifier struct {
	extractor *Extractor
	store     Store
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

// WithVerifierStore overrides the consumer store.
func WithVerifierStore(store Store) VerifierOption {
	return func(v *Verifier) {
		v.store = store
	}
}

// NewVerifier creates the apikey verifier. The vault client is used only
// when the configuration selects the Vault-backed consumer store and may
// be nil otherwise.
func NewVerifier(ctx context.Context, cfg *config.APIKeyAuthConfig, vaultClient vault.Client, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("apikey configuration is required")
	}

	v := &Verifier{
		extractor: NewExtractor(cfg),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.store == nil {
		store, err := NewStore(ctx, cfg, vaultClient, v.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer store: %w", err)
		}
		v.store = store
	}

	return v, nil
}

// Mode returns the strategy this verifier implements.
func (v *Verifier) Mode() auth.Mode {
	return auth.ModeAPIKey
}

// Verify extracts the API key and resolves it to a consumer. The key
// value itself is never logged.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (*auth.Identity, error) {
	key := v.extractor.Extract(r)
	if key == "" {
		return nil, auth.WrapError(auth.ErrorTypeCredentialMissing,
			"api_key_missing", "API key required", auth.ErrAPIKeyMissing)
	}

	consumer, err := v.store.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrConsumerNotFound) {
			return nil, auth.WrapError(auth.ErrorTypeCredentialInvalid,
				"api_key_invalid", "invalid API key", auth.ErrAPIKeyInvalid)
		}
		return nil, auth.WrapError(auth.ErrorTypeInternal,
			"store_error", "consumer store lookup failed", err)
	}

	v.logger.Debug("api key verified",
		observability.String("consumer", consumer.Username),
	)

	return &auth.Identity{
		Mode:       auth.ModeAPIKey,
		Verified:   true,
		Principal:  consumer.Username,
		VerifiedAt: time.Now(),
	}, nil
}

// ConsumerCount returns the number of registered consumers.
func (v *Verifier) ConsumerCount() int {
	return v.store.Count()
}

// Close releases the verifier's store.
func (v *Verifier) Close() error {
	return v.store.Close()
}

// Ensure Verifier implements auth.Verifier.
var _ auth.Verifier = (*Verifier)(nil)
