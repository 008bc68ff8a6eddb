package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
)

// Header is the decoded JOSE header of a compact token.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims is the decoded payload. Registered claims are parsed into
// fields; Raw keeps the full claim set for policies and forwarding.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	ID        string

	Raw map[string]any
}

// Token is a parsed but not yet verified compact token.
type Token struct {
	Header    Header
	Claims    Claims
	Signature []byte

	// SigningInput is the header.payload prefix the signature covers.
	SigningInput string
}

// Parse splits and decodes a compact-serialization token. Parsing
// performs no verification.
func Parse(token string) (*Token, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token must have three segments, got %d", len(parts))
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	claims, err := parseClaims(payloadJSON)
	if err != nil {
		return nil, err
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	return &Token{
		Header:       header,
		Claims:       *claims,
		Signature:    signature,
		SigningInput: parts[0] + "." + parts[1],
	}, nil
}

// parseClaims decodes the payload, keeping the raw claim set alongside
// the registered claims.
func parseClaims(payload []byte) (*Claims, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	claims := &Claims{Raw: raw}

	if v, ok := raw["iss"].(string); ok {
		claims.Issuer = v
	}
	if v, ok := raw["sub"].(string); ok {
		claims.Subject = v
	}
	if v, ok := raw["jti"].(string); ok {
		claims.ID = v
	}

	// aud is a string or an array of strings.
	switch aud := raw["aud"].(type) {
	case string:
		claims.Audience = []string{aud}
	case []any:
		for _, v := range aud {
			if s, ok := v.(string); ok {
				claims.Audience = append(claims.Audience, s)
			}
		}
	}

	var err error
	if claims.ExpiresAt, err = numericDate(raw, "exp"); err != nil {
		return nil, err
	}
	if claims.NotBefore, err = numericDate(raw, "nbf"); err != nil {
		return nil, err
	}
	if claims.IssuedAt, err = numericDate(raw, "iat"); err != nil {
		return nil, err
	}

	return claims, nil
}

// numericDate reads a NumericDate claim; absent claims yield the zero
// time.
func numericDate(raw map[string]any, name string) (time.Time, error) {
	v, ok := raw[name]
	if !ok {
		return time.Time{}, nil
	}
	f, ok := v.(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("claim %s is not a number", name)
	}
	return time.Unix(int64(f), 0), nil
}

// HasAudience reports whether aud appears in the token's audience.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}
