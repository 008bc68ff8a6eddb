package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// maxJWKSResponseSize caps a JWKS document read.
const maxJWKSResponseSize = 1 << 20

// ErrKeyNotFound indicates no key matched the token's kid.
var ErrKeyNotFound = errors.New("verification key not found")

// KeySet resolves the verification key for a token. The returned key is
// a []byte HMAC secret, *rsa.PublicKey, or *ecdsa.PublicKey depending
// on the algorithm family.
type KeySet interface {
	// Key returns the key for the given key ID and algorithm.
	Key(ctx context.Context, kid, alg string) (any, error)

	// Close releases key set resources.
	Close() error
}

// staticKeySet serves a fixed secret and/or public key from
// configuration.
type staticKeySet struct {
	secret    []byte
	publicKey any
}

// newStaticKeySet builds the key set from the configured secret and PEM
// material.
func newStaticKeySet(cfg *config.JWTConfig) (*staticKeySet, error) {
	s := &staticKeySet{}

	if cfg.Secret != "" {
		s.secret = []byte(cfg.Secret)
	}

	pemData := []byte(cfg.PublicKey)
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile) // #nosec G304 -- key file path from config
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		pemData = data
	}
	if len(pemData) > 0 {
		key, err := parsePublicKeyPEM(pemData)
		if err != nil {
			return nil, err
		}
		s.publicKey = key
	}

	if s.secret == nil && s.publicKey == nil {
		return nil, fmt.Errorf("no key material configured")
	}

	return s, nil
}

// parsePublicKeyPEM parses an RSA or EC public key from PEM data.
func parsePublicKeyPEM(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		switch key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported public key type %T", key)
		}
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		return cert.PublicKey, nil
	}

	return nil, fmt.Errorf("failed to parse public key PEM")
}

// Key returns the secret for HS* algorithms and the public key
// otherwise. Static keys carry no kid.
func (s *staticKeySet) Key(_ context.Context, _ string, alg string) (any, error) {
	switch alg {
	case AlgHS256, AlgHS384, AlgHS512:
		if s.secret == nil {
			return nil, fmt.Errorf("%w: no HMAC secret configured", ErrKeyNotFound)
		}
		return s.secret, nil
	default:
		if s.publicKey == nil {
			return nil, fmt.Errorf("%w: no public key configured", ErrKeyNotFound)
		}
		return s.publicKey, nil
	}
}

// Close implements KeySet.
func (s *staticKeySet) Close() error {
	return nil
}

// jsonWebKey is one entry of a JWKS document.
type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	// RSA components.
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC components.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// jwksSnapshot is one fetched and converted key set.
type jwksSnapshot struct {
	keys      map[string]any
	first     any
	fetchedAt time.Time
}

// jwksKeySet fetches verification keys from a JWKS endpoint, caching
// them for the configured TTL. A failed refresh serves the stale
// snapshot rather than failing verification.
type jwksKeySet struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	logger     observability.Logger

	mu       sync.RWMutex
	snapshot *jwksSnapshot

	refreshMu sync.Mutex
}

// jwksOption configures the JWKS key set.
type jwksOption func(*jwksKeySet)

// withJWKSHTTPClient overrides the HTTP client, for tests.
func withJWKSHTTPClient(client *http.Client) jwksOption {
	return func(s *jwksKeySet) {
		s.httpClient = client
	}
}

// newJWKSKeySet creates the key set. The first fetch happens lazily on
// first use.
func newJWKSKeySet(url string, ttl time.Duration, logger observability.Logger, opts ...jwksOption) *jwksKeySet {
	s := &jwksKeySet{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the key matching kid, refreshing the snapshot when it is
// missing or older than the TTL. An unknown kid forces one refresh in
// case the provider rotated keys.
func (s *jwksKeySet) Key(ctx context.Context, kid, _ string) (any, error) {
	snap := s.current()

	if snap == nil || time.Since(snap.fetchedAt) > s.ttl {
		if err := s.refresh(ctx); err != nil {
			if snap == nil {
				return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
			}
			s.logger.Warn("JWKS refresh failed, serving cached keys",
				observability.String("url", s.url),
				observability.Error(err),
			)
		}
		snap = s.current()
	}

	if key, ok := snap.lookup(kid); ok {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys since the last
	// fetch.
	if err := s.refresh(ctx); err == nil {
		if key, ok := s.current().lookup(kid); ok {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// lookup finds the key for kid; an empty kid matches a single-key set.
func (snap *jwksSnapshot) lookup(kid string) (any, bool) {
	if snap == nil {
		return nil, false
	}
	if kid == "" {
		if len(snap.keys) == 1 {
			return snap.first, true
		}
		return nil, false
	}
	key, ok := snap.keys[kid]
	return key, ok
}

// current returns the cached snapshot.
func (s *jwksKeySet) current() *jwksSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// refresh fetches and converts the JWKS document. Concurrent callers
// coalesce; the second caller reuses the first one's result.
func (s *jwksKeySet) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if snap := s.current(); snap != nil && time.Since(snap.fetchedAt) < s.ttl/2 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	snap := &jwksSnapshot{
		keys:      make(map[string]any, len(doc.Keys)),
		fetchedAt: time.Now(),
	}
	for i := range doc.Keys {
		jwk := &doc.Keys[i]
		key, err := jwk.publicKey()
		if err != nil {
			s.logger.Warn("skipping unusable JWKS key",
				observability.String("kid", jwk.Kid),
				observability.Error(err),
			)
			continue
		}
		snap.keys[jwk.Kid] = key
		if snap.first == nil {
			snap.first = key
		}
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	s.logger.Debug("JWKS refreshed",
		observability.String("url", s.url),
		observability.Int("keys", len(snap.keys)),
	)
	return nil
}

// Close implements KeySet.
func (s *jwksKeySet) Close() error {
	return nil
}

// publicKey converts the JWK into a crypto public key.
func (jwk *jsonWebKey) publicKey() (any, error) {
	switch jwk.Kty {
	case "RSA":
		return jwk.rsaPublicKey()
	case "EC":
		return jwk.ecdsaPublicKey()
	default:
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}
}

func (jwk *jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func (jwk *jsonWebKey) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// NewKeySet builds the key set the configuration names: JWKS when a URL
// is set, otherwise the static secret or PEM key.
func NewKeySet(cfg *config.JWTConfig, logger observability.Logger) (KeySet, error) {
	if cfg.JWKSURL != "" {
		return newJWKSKeySet(cfg.JWKSURL, cfg.GetEffectiveJWKSCacheTTL(), logger), nil
	}
	return newStaticKeySet(cfg)
}
