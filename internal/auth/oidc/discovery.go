package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dogcatcher/authgw/internal/observability"
)

// maxDiscoveryResponseSize caps a discovery document read.
const maxDiscoveryResponseSize = 1 << 20

// DiscoveryDocument is the subset of the provider metadata the gateway
// uses.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

// Discovery fetches and caches the provider's discovery document.
type Discovery struct {
	issuerURL  string
	ttl        time.Duration
	httpClient *http.Client
	logger     observability.Logger

	mu        sync.Mutex
	document  *DiscoveryDocument
	fetchedAt time.Time
}

// DiscoveryOption configures the discovery client.
type DiscoveryOption func(*Discovery)

// WithDiscoveryHTTPClient overrides the HTTP client.
func WithDiscoveryHTTPClient(client *http.Client) DiscoveryOption {
	return func(d *Discovery) {
		d.httpClient = client
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(logger observability.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// NewDiscovery creates a discovery client for the issuer.
func NewDiscovery(issuerURL string, ttl time.Duration, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		issuerURL:  strings.TrimSuffix(issuerURL, "/"),
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Document returns the discovery document, fetching it when the cache
// is empty or expired. A failed refresh serves the stale document.
func (d *Discovery) Document(ctx context.Context) (*DiscoveryDocument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.document != nil && time.Since(d.fetchedAt) < d.ttl {
		return d.document, nil
	}

	doc, err := d.fetch(ctx)
	if err != nil {
		if d.document != nil {
			d.logger.Warn("discovery refresh failed, serving cached document",
				observability.String("issuer", d.issuerURL),
				observability.Error(err),
			)
			return d.document, nil
		}
		return nil, err
	}

	d.document = doc
	d.fetchedAt = time.Now()
	return doc, nil
}

// fetch retrieves and validates the discovery document.
func (d *Discovery) fetch(ctx context.Context) (*DiscoveryDocument, error) {
	url := d.issuerURL + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	// The issuer in the document must match the URL it was fetched
	// from, per OpenID Connect Discovery.
	if strings.TrimSuffix(doc.Issuer, "/") != d.issuerURL {
		return nil, fmt.Errorf("discovery issuer %q does not match configured issuer %q",
			doc.Issuer, d.issuerURL)
	}

	d.logger.Debug("discovery document fetched",
		observability.String("issuer", doc.Issuer),
	)
	return &doc, nil
}

// ForceRefresh discards the cached document.
func (d *Discovery) ForceRefresh() {
	d.mu.Lock()
	d.document = nil
	d.mu.Unlock()
}

// IssuerURL returns the configured issuer.
func (d *Discovery) IssuerURL() string {
	return d.issuerURL
}
