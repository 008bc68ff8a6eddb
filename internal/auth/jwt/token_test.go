package jwt

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestParse(t *testing.T) {
	t.Parallel()

	header := encodeSegment(`{"alg":"HS256","typ":"JWT","kid":"k1"}`)
	payload := encodeSegment(`{"iss":"https://issuer.example.com","sub":"user-1",` +
		`"aud":["gateway","other"],"exp":1790000000,"nbf":1690000000,"iat":1690000000,` +
		`"jti":"id-1","role":"admin"}`)
	signature := encodeSegment("sig")

	token, err := Parse(header + "." + payload + "." + signature)
	require.NoError(t, err)

	assert.Equal(t, "HS256", token.Header.Algorithm)
	assert.Equal(t, "k1", token.Header.KeyID)
	assert.Equal(t, "https://issuer.example.com", token.Claims.Issuer)
	assert.Equal(t, "user-1", token.Claims.Subject)
	assert.Equal(t, []string{"gateway", "other"}, token.Claims.Audience)
	assert.Equal(t, time.Unix(1790000000, 0), token.Claims.ExpiresAt)
	assert.Equal(t, time.Unix(1690000000, 0), token.Claims.NotBefore)
	assert.Equal(t, "id-1", token.Claims.ID)
	assert.Equal(t, "admin", token.Claims.Raw["role"])
	assert.Equal(t, header+"."+payload, token.SigningInput)
	assert.Equal(t, []byte("sig"), token.Signature)
}

func TestParse_StringAudience(t *testing.T) {
	t.Parallel()

	token, err := Parse(encodeSegment(`{"alg":"HS256"}`) + "." +
		encodeSegment(`{"aud":"gateway"}`) + "." + encodeSegment("sig"))
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway"}, token.Claims.Audience)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "two segments",
			token: encodeSegment(`{"alg":"HS256"}`) + "." + encodeSegment(`{}`),
		},
		{
			name:  "four segments",
			token: "a.b.c.d",
		},
		{
			name:  "header not base64",
			token: "!!!." + encodeSegment(`{}`) + "." + encodeSegment("sig"),
		},
		{
			name:  "header not json",
			token: encodeSegment("nope") + "." + encodeSegment(`{}`) + "." + encodeSegment("sig"),
		},
		{
			name:  "payload not base64",
			token: encodeSegment(`{"alg":"HS256"}`) + ".!!!." + encodeSegment("sig"),
		},
		{
			name:  "payload not json",
			token: encodeSegment(`{"alg":"HS256"}`) + "." + encodeSegment("nope") + "." + encodeSegment("sig"),
		},
		{
			name:  "signature not base64",
			token: encodeSegment(`{"alg":"HS256"}`) + "." + encodeSegment(`{}`) + ".!!!",
		},
		{
			name:  "exp not a number",
			token: encodeSegment(`{"alg":"HS256"}`) + "." + encodeSegment(`{"exp":"soon"}`) + "." + encodeSegment("sig"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestClaims_HasAudience(t *testing.T) {
	t.Parallel()

	claims := &Claims{Audience: []string{"gateway", "portal"}}
	assert.True(t, claims.HasAudience("gateway"))
	assert.True(t, claims.HasAudience("portal"))
	assert.False(t, claims.HasAudience("other"))

	empty := &Claims{}
	assert.False(t, empty.HasAudience("gateway"))
}
