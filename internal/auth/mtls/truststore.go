package mtls

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dogcatcher/authgw/internal/config"
	"github.com/dogcatcher/authgw/internal/observability"
)

// trustSnapshot is one immutable view of the trust material.
type trustSnapshot struct {
	pool    *x509.CertPool
	revoked map[string]struct{}
	loaded  time.Time
}

// TrustStore holds the CA pool and revoked serial set. Readers always
// see a complete snapshot; reloads swap the snapshot atomically and a
// failed reload keeps the previous one.
type TrustStore struct {
	cfg    *config.MTLSConfig
	logger observability.Logger

	snapshot atomic.Pointer[trustSnapshot]

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool

	debounceDelay time.Duration
}

// TrustStoreOption configures the trust store.
type TrustStoreOption func(*TrustStore)

// WithTrustStoreLogger sets the logger.
func WithTrustStoreLogger(logger observability.Logger) TrustStoreOption {
	return func(s *TrustStore) {
		s.logger = logger
	}
}

// WithReloadDebounce sets the debounce delay for file change events.
func WithReloadDebounce(delay time.Duration) TrustStoreOption {
	return func(s *TrustStore) {
		s.debounceDelay = delay
	}
}

// NewTrustStore loads the CA bundles and CRL named by the
// configuration.
func NewTrustStore(cfg *config.MTLSConfig, opts ...TrustStoreOption) (*TrustStore, error) {
	if cfg == nil || len(cfg.CAFiles) == 0 {
		return nil, fmt.Errorf("at least one CA file is required")
	}

	s := &TrustStore{
		cfg:           cfg,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins watching the trust files when reload is enabled.
func (s *TrustStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return nil
	}

	if !s.cfg.Reload {
		close(s.stoppedCh)
		s.started = true
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create trust store watcher: %w", err)
	}

	watched := make(map[string]struct{})
	for _, file := range s.trustFiles() {
		dir := filepath.Dir(file)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watched[dir] = struct{}{}
	}

	s.watcher = watcher
	s.started = true
	go s.watchLoop()

	s.logger.Info("trust store watching for changes",
		observability.Strings("caFiles", s.cfg.CAFiles),
	)
	return nil
}

// trustFiles returns every file whose change triggers a reload.
func (s *TrustStore) trustFiles() []string {
	files := append([]string(nil), s.cfg.CAFiles...)
	if s.cfg.Revocation != nil && s.cfg.Revocation.CRLFile != "" {
		files = append(files, s.cfg.Revocation.CRLFile)
	}
	return files
}

// watchLoop reloads the trust material after file changes settle.
func (s *TrustStore) watchLoop() {
	defer close(s.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-s.stopCh:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !s.isTrustFileEvent(event) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(s.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if err := s.reload(); err != nil {
				s.logger.Error("trust store reload failed, keeping previous trust material",
					observability.Error(err),
				)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("trust store watcher error", observability.Error(err))
		}
	}
}

// isTrustFileEvent reports whether the event touches a trust file.
func (s *TrustStore) isTrustFileEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	for _, file := range s.trustFiles() {
		if filepath.Clean(event.Name) == filepath.Clean(file) {
			return true
		}
	}
	return false
}

// reload reads the CA bundles and CRL and swaps the snapshot.
func (s *TrustStore) reload() error {
	pool := x509.NewCertPool()
	for _, file := range s.cfg.CAFiles {
		data, err := os.ReadFile(file) // #nosec G304 -- CA file path from config
		if err != nil {
			return fmt.Errorf("failed to read CA file %s: %w", file, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return fmt.Errorf("no certificates found in CA file %s", file)
		}
	}

	revoked := make(map[string]struct{})
	if s.cfg.Revocation != nil && s.cfg.Revocation.Enabled {
		var err error
		revoked, err = loadCRL(s.cfg.Revocation.CRLFile)
		if err != nil {
			return err
		}
	}

	s.snapshot.Store(&trustSnapshot{
		pool:    pool,
		revoked: revoked,
		loaded:  time.Now(),
	})

	s.logger.Info("trust store loaded",
		observability.Int("caFiles", len(s.cfg.CAFiles)),
		observability.Int("revokedSerials", len(revoked)),
	)
	return nil
}

// loadCRL parses a PEM or DER encoded revocation list into a serial
// set.
func loadCRL(file string) (map[string]struct{}, error) {
	if file == "" {
		return nil, fmt.Errorf("revocation is enabled but no CRL file is configured")
	}

	data, err := os.ReadFile(file) // #nosec G304 -- CRL file path from config
	if err != nil {
		return nil, fmt.Errorf("failed to read CRL file %s: %w", file, err)
	}

	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}

	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL file %s: %w", file, err)
	}

	revoked := make(map[string]struct{}, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		revoked[entry.SerialNumber.String()] = struct{}{}
	}
	return revoked, nil
}

// Pool returns the current CA pool for TLS client verification.
func (s *TrustStore) Pool() *x509.CertPool {
	return s.snapshot.Load().pool
}

// IsRevoked reports whether the certificate's serial appears in the
// loaded CRL.
func (s *TrustStore) IsRevoked(cert *x509.Certificate) bool {
	_, ok := s.snapshot.Load().revoked[cert.SerialNumber.String()]
	return ok
}

// LoadedAt returns when the current snapshot was loaded.
func (s *TrustStore) LoadedAt() time.Time {
	return s.snapshot.Load().loaded
}

// ForceReload re-reads the trust files immediately.
func (s *TrustStore) ForceReload() error {
	return s.reload()
}

// Close stops the watcher.
func (s *TrustStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if started {
		<-s.stoppedCh
	}

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
