package apikey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
	"github.com/dogcatcher/authgw/internal/vault"
)

// ErrConsumerNotFound indicates no consumer owns the presented key.
var ErrConsumerNotFound = errors.New("consumer not found")

// Consumer is the owner of a matched API key.
type Consumer struct {
	// Username is forwarded to the upstream as the principal.
	Username string

	// CustomID is an optional operator-assigned identifier.
	CustomID string
}

// Store resolves an API key to its consumer.
type Store interface {
	// Lookup returns the consumer owning key, or ErrConsumerNotFound.
	Lookup(ctx context.Context, key string) (*Consumer, error)

	// Count returns the number of registered consumers.
	Count() int

	// Close releases store resources.
	Close() error
}

// entry pairs a consumer with its stored key form.
type entry struct {
	consumer *Consumer
	stored   string
}

// MemoryStore matches keys against a static registry. Lookup scans all
// entries with constant-time comparison so that match position does not
// leak through timing.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []entry
	algorithm string
}

// NewMemoryStore builds a registry from configured consumers. Consumers
// carrying a plaintext key are hashed under the configured algorithm at
// build time.
func NewMemoryStore(consumers []config.Consumer, algorithm string) (*MemoryStore, error) {
	s := &MemoryStore{algorithm: algorithm}
	if err := s.load(consumers); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) load(consumers []config.Consumer) error {
	entries := make([]entry, 0, len(consumers))
	for i, c := range consumers {
		if c.Username == "" {
			return fmt.Errorf("consumer %d: username is required", i)
		}

		stored := c.KeyHash
		if stored == "" {
			if c.Key == "" {
				return fmt.Errorf("consumer %q: key or keyHash is required", c.Username)
			}
			var err error
			stored, err = HashKey(c.Key, s.algorithm)
			if err != nil {
				return fmt.Errorf("consumer %q: %w", c.Username, err)
			}
		}

		entries = append(entries, entry{
			consumer: &Consumer{Username: c.Username, CustomID: c.CustomID},
			stored:   stored,
		})
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Lookup returns the consumer owning key. Every entry is compared even
// after a match is found.
func (s *MemoryStore) Lookup(_ context.Context, key string) (*Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Consumer
	for _, e := range s.entries {
		if matchKey(key, e.stored, s.algorithm) && found == nil {
			found = e.consumer
		}
	}
	if found == nil {
		return nil, ErrConsumerNotFound
	}
	return found, nil
}

// Count returns the number of registered consumers.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// VaultStore loads the consumer registry from a Vault KV v2 secret whose
// fields map usernames to plaintext keys. The registry snapshot is
// swapped atomically on refresh; lookups never block on Vault.
type VaultStore struct {
	client    vault.Client
	path      string
	algorithm string
	refresh   time.Duration
	logger    observability.Logger

	snapshot atomic.Pointer[MemoryStore]

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewVaultStore creates the store and performs the initial load.
func NewVaultStore(ctx context.Context, client vault.Client, cfg *config.ConsumerStoreConfig, algorithm string, logger observability.Logger) (*VaultStore, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("vault consumer store requires a path")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &VaultStore{
		client:    client,
		path:      cfg.Path,
		algorithm: algorithm,
		refresh:   time.Duration(cfg.Refresh),
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if err := s.reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load consumers from vault: %w", err)
	}

	if s.refresh > 0 {
		go s.refreshLoop()
	} else {
		close(s.doneCh)
	}

	return s, nil
}

// reload reads the secret and swaps the registry snapshot.
func (s *VaultStore) reload(ctx context.Context) error {
	data, err := s.client.ReadKV2(ctx, s.path)
	if err != nil {
		return err
	}

	consumers := make([]config.Consumer, 0, len(data))
	for username, v := range data {
		key, ok := v.(string)
		if !ok || key == "" {
			s.logger.Warn("skipping vault consumer with non-string key",
				observability.String("username", username),
			)
			continue
		}
		consumers = append(consumers, config.Consumer{Username: username, Key: key})
	}

	registry, err := NewMemoryStore(consumers, s.algorithm)
	if err != nil {
		return err
	}

	s.snapshot.Store(registry)
	s.logger.Info("loaded consumers from vault",
		observability.String("path", s.path),
		observability.Int("consumers", registry.Count()),
	)
	return nil
}

// refreshLoop re-reads the secret on the configured interval. A failed
// refresh keeps the previous snapshot.
func (s *VaultStore) refreshLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.reload(ctx); err != nil {
				s.logger.Error("failed to refresh consumers from vault",
					observability.String("path", s.path),
					observability.Error(err),
				)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Lookup resolves key against the current snapshot.
func (s *VaultStore) Lookup(ctx context.Context, key string) (*Consumer, error) {
	return s.snapshot.Load().Lookup(ctx, key)
}

// Count returns the number of consumers in the current snapshot.
func (s *VaultStore) Count() int {
	return s.snapshot.Load().Count()
}

// Close stops the refresh loop.
func (s *VaultStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	return nil
}

// NewStore creates the store named by the configuration: the static
// registry by default, or the Vault-backed registry when the store
// section selects it.
func NewStore(ctx context.Context, cfg *config.APIKeyAuthConfig, vaultClient vault.Client, logger observability.Logger) (Store, error) {
	algorithm := cfg.GetEffectiveHashAlgorithm()
	if !ValidAlgorithm(algorithm) {
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}

	if cfg.Store != nil && cfg.Store.Type == "vault" {
		if vaultClient == nil {
			return nil, fmt.Errorf("vault consumer store requires a vault client")
		}
		return NewVaultStore(ctx, vaultClient, cfg.Store, algorithm, logger)
	}

	return NewMemoryStore(cfg.Consumers, algorithm)
}
