package apikey

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/config"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()

	v, err := NewVerifier(context.Background(), &config.APIKeyAuthConfig{
		Consumers: []config.Consumer{
			{Username: "citizen", Key: "citizen-api-key-2026"},
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	return v
}

func TestVerifier_Mode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, auth.ModeAPIKey, newTestVerifier(t).Mode())
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)

	r := httptest.NewRequest("GET", "/api/v1/citizens", nil)
	r.Header.Set("X-API-Key", "citizen-api-key-2026")

	identity, err := v.Verify(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, auth.ModeAPIKey, identity.Mode)
	assert.True(t, identity.Verified)
	assert.Equal(t, "citizen", identity.Principal)
	assert.False(t, identity.VerifiedAt.IsZero())
}

func TestVerifier_Verify_QueryParameter(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)

	r := httptest.NewRequest("GET", "/api/v1/citizens?apikey=citizen-api-key-2026", nil)

	identity, err := v.Verify(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "citizen", identity.Principal)
}

func TestVerifier_Verify_Missing(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)

	r := httptest.NewRequest("GET", "/api/v1/citizens", nil)

	_, err := v.Verify(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrAPIKeyMissing)
	assert.Equal(t, auth.ErrorTypeCredentialMissing, auth.TypeOf(err))
	assert.Equal(t, "api_key_missing", auth.ReasonOf(err))
}

func TestVerifier_Verify_Invalid(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)

	r := httptest.NewRequest("GET", "/api/v1/citizens", nil)
	r.Header.Set("X-API-Key", "citizen-api-key-2025")

	_, err := v.Verify(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrAPIKeyInvalid)
	assert.Equal(t, auth.ErrorTypeCredentialInvalid, auth.TypeOf(err))
}

// failingStore always returns an unclassified error.
type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (*Consumer, error) {
	return nil, errors.New("backend down")
}

func (failingStore) Count() int { return 0 }

func (failingStore) Close() error { return nil }

func TestVerifier_Verify_StoreError(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(context.Background(), &config.APIKeyAuthConfig{}, nil,
		WithVerifierStore(failingStore{}))
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/v1/citizens", nil)
	r.Header.Set("X-API-Key", "anything")

	_, err = v.Verify(context.Background(), r)
	require.Error(t, err)
	assert.Equal(t, auth.ErrorTypeInternal, auth.TypeOf(err))
}

func TestNewVerifier_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier(context.Background(), nil, nil)
	assert.Error(t, err)
}
