package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dogcatcher/authgw/internal/observability"
)

const (
	// maxIntrospectionResponseSize caps an introspection response read.
	maxIntrospectionResponseSize = 1 << 20

	// retryDelay is the pause before the single retry of a failed
	// introspection call.
	retryDelay = 250 * time.Millisecond
)

// IntrospectionResult is the RFC 7662 response subset the gateway uses.
// Extra keeps the full response for claims policies.
type IntrospectionResult struct {
	Active    bool
	Username  string
	Email     string
	Subject   string
	Scope     string
	ClientID  string
	ExpiresAt time.Time

	Extra map[string]any
}

// introspector calls the provider's introspection endpoint. Calls run
// behind a circuit breaker so a dead provider fails fast instead of
// stacking up timeouts.
type introspector struct {
	clientID     string
	clientSecret string
	timeout      time.Duration
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	logger       observability.Logger
}

// newIntrospector creates the introspection client.
func newIntrospector(clientID, clientSecret string, timeout time.Duration, httpClient *http.Client, logger observability.Logger) *introspector {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oidc-introspection",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("introspection circuit breaker state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return &introspector{
		clientID:     clientID,
		clientSecret: clientSecret,
		timeout:      timeout,
		httpClient:   httpClient,
		breaker:      breaker,
		logger:       logger,
	}
}

// Introspect posts the token to the endpoint, retrying once on a
// transport failure. A response from the provider, active or not, is
// never retried.
func (i *introspector) Introspect(ctx context.Context, endpoint, token string) (*IntrospectionResult, error) {
	result, err := i.breaker.Execute(func() (any, error) {
		res, err := i.introspectOnce(ctx, endpoint, token)
		if err == nil || ctx.Err() != nil {
			return res, err
		}

		i.logger.Debug("introspection call failed, retrying",
			observability.Error(err),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return i.introspectOnce(ctx, endpoint, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("introspection circuit breaker open: %w", err)
		}
		return nil, err
	}

	return result.(*IntrospectionResult), nil
}

// introspectOnce performs one bounded introspection round trip.
func (i *introspector) introspectOnce(ctx context.Context, endpoint, token string) (*IntrospectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(i.clientID, i.clientSecret)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read introspection response: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse introspection response: %w", err)
	}

	return parseIntrospection(raw), nil
}

// parseIntrospection maps the raw response onto the result struct.
func parseIntrospection(raw map[string]any) *IntrospectionResult {
	result := &IntrospectionResult{Extra: raw}

	if v, ok := raw["active"].(bool); ok {
		result.Active = v
	}
	if v, ok := raw["username"].(string); ok {
		result.Username = v
	}
	if v, ok := raw["email"].(string); ok {
		result.Email = v
	}
	if v, ok := raw["sub"].(string); ok {
		result.Subject = v
	}
	if v, ok := raw["scope"].(string); ok {
		result.Scope = v
	}
	if v, ok := raw["client_id"].(string); ok {
		result.ClientID = v
	}
	if v, ok := raw["exp"].(float64); ok {
		result.ExpiresAt = time.Unix(int64(v), 0)
	}

	return result
}
