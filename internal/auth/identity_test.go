package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicIdentity(t *testing.T) {
	t.Parallel()

	id := PublicIdentity()
	require.NotNil(t, id)
	assert.Equal(t, ModeNone, id.Mode)
	assert.True(t, id.Verified)
	assert.Empty(t, id.Principal)
	assert.False(t, id.VerifiedAt.IsZero())
}

func TestIdentity_Claims(t *testing.T) {
	t.Parallel()

	id := &Identity{
		Mode:      ModeJWT,
		Verified:  true,
		Principal: "citizen",
		Claims: map[string]any{
			"sub":   "citizen",
			"email": "citizen@example.com",
			"exp":   float64(1767225600),
		},
	}

	assert.True(t, id.HasClaim("sub"))
	assert.False(t, id.HasClaim("groups"))
	assert.Equal(t, "citizen@example.com", id.StringClaim("email"))
	assert.Empty(t, id.StringClaim("exp"), "non-string claim reads as empty")
	assert.Empty(t, id.StringClaim("groups"))
}

func TestIdentity_ClaimsNilReceiver(t *testing.T) {
	t.Parallel()

	var id *Identity
	assert.False(t, id.HasClaim("sub"))
	assert.Empty(t, id.StringClaim("sub"))

	empty := &Identity{Mode: ModeAPIKey, Verified: true}
	assert.False(t, empty.HasClaim("sub"))
}

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	id := &Identity{Mode: ModeAPIKey, Verified: true, Principal: "citizen"}
	ctx := ContextWithIdentity(context.Background(), id)

	got := IdentityFromContext(ctx)
	require.NotNil(t, got)
	assert.Same(t, id, got)

	assert.Nil(t, IdentityFromContext(context.Background()))
}
