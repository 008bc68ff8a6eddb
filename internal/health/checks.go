package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// HTTPCheck probes url with a GET and accepts any status below 500.
// Used for the identity provider discovery endpoint.
func HTTPCheck(name, url string, client *http.Client) *CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return NewCheckFunc(name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}

// RedisCheck pings the cache backend.
func RedisCheck(name string, client *redis.Client) *CheckFunc {
	return NewCheckFunc(name, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}
