package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogcatcher/authgw/internal/auth/mtls"
	"github.com/dogcatcher/authgw/internal/config"
)

// listenerCA issues throwaway certificates for handshake tests.
type listenerCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

func newListenerCA(t *testing.T) *listenerCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "listener test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &listenerCA{
		cert: cert,
		key:  key,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// issue signs a keypair and returns the PEM encoded certificate and key.
func (ca *listenerCA) issue(t *testing.T, cn string, server bool) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	if server {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		template.DNSNames = []string{"localhost"}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// writeServerCert writes a server keypair and returns the file paths.
func (ca *listenerCA) writeServerCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	certPEM, keyPEM := ca.issue(t, "localhost", true)
	certFile = filepath.Join(dir, "server.pem")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

// clientCertificate returns a client keypair ready for a TLS config.
func (ca *listenerCA) clientCertificate(t *testing.T, cn string) tls.Certificate {
	t.Helper()

	certPEM, keyPEM := ca.issue(t, cn, false)
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return cert
}

// pool returns a cert pool trusting the CA.
func (ca *listenerCA) pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(ca.pem)
	return pool
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
}

func TestNewListener_Validation(t *testing.T) {
	t.Parallel()

	trust := &mtls.TrustStore{}

	tests := []struct {
		name    string
		cfg     config.Listener
		opts    []ListenerOption
		wantErr string
	}{
		{
			name: "plain",
			cfg:  config.Listener{Name: "http", Port: 0, Protocol: config.ProtocolPlain},
		},
		{
			name:    "tls without certificate",
			cfg:     config.Listener{Name: "https", Port: 0, Protocol: config.ProtocolTLS},
			wantErr: "requires a server certificate",
		},
		{
			name:    "mtls without certificate",
			cfg:     config.Listener{Name: "mtls", Port: 0, Protocol: config.ProtocolMutualTLS},
			wantErr: "requires a server certificate",
		},
		{
			name: "mtls without trust store",
			cfg: config.Listener{
				Name: "mtls", Port: 0, Protocol: config.ProtocolMutualTLS,
				TLS: &config.ListenerTLS{CertFile: "c", KeyFile: "k"},
			},
			wantErr: "requires a trust store",
		},
		{
			name: "mtls complete",
			cfg: config.Listener{
				Name: "mtls", Port: 0, Protocol: config.ProtocolMutualTLS,
				TLS: &config.ListenerTLS{CertFile: "c", KeyFile: "k"},
			},
			opts: []ListenerOption{WithTrustStore(trust)},
		},
		{
			name:    "unknown protocol",
			cfg:     config.Listener{Name: "quic", Port: 0, Protocol: "quic"},
			wantErr: "unknown protocol",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewListener(tt.cfg, okHandler(), tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestListener_Plain(t *testing.T) {
	t.Parallel()

	l, err := NewListener(config.Listener{
		Name: "http", Bind: "127.0.0.1", Port: 0, Protocol: config.ProtocolPlain,
	}, okHandler())
	require.NoError(t, err)

	assert.False(t, l.IsRunning())
	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.IsRunning())

	// Starting twice fails.
	assert.Error(t, l.Start(context.Background()))

	resp, err := http.Get("http://" + l.BoundAddr())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.IsRunning())

	// Stopping a stopped listener is a no-op.
	assert.NoError(t, l.Stop(context.Background()))
}

func TestListener_TLS(t *testing.T) {
	t.Parallel()

	ca := newListenerCA(t)
	certFile, keyFile := ca.writeServerCert(t, t.TempDir())

	l, err := NewListener(config.Listener{
		Name: "https", Bind: "127.0.0.1", Port: 0, Protocol: config.ProtocolTLS,
		TLS: &config.ListenerTLS{CertFile: certFile, KeyFile: keyFile},
	}, okHandler())
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	defer func() { _ = l.Stop(context.Background()) }()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: ca.pool(), MinVersion: tls.VersionTLS12},
		},
	}

	resp, err := client.Get("https://" + l.BoundAddr())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListener_TLS_BadCertificateFiles(t *testing.T) {
	t.Parallel()

	l, err := NewListener(config.Listener{
		Name: "https", Bind: "127.0.0.1", Port: 0, Protocol: config.ProtocolTLS,
		TLS: &config.ListenerTLS{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"},
	}, okHandler())
	require.NoError(t, err)

	err = l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server certificate")
}

func TestListener_MutualTLS(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ca := newListenerCA(t)
	certFile, keyFile := ca.writeServerCert(t, dir)

	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, ca.pem, 0o600))

	trust, err := mtls.NewTrustStore(&config.MTLSConfig{CAFiles: []string{caFile}})
	require.NoError(t, err)
	defer trust.Close()

	l, err := NewListener(config.Listener{
		Name: "mtls", Bind: "127.0.0.1", Port: 0, Protocol: config.ProtocolMutualTLS,
		TLS: &config.ListenerTLS{CertFile: certFile, KeyFile: keyFile},
	}, okHandler(), WithTrustStore(trust))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	defer func() { _ = l.Stop(context.Background()) }()

	t.Run("client certificate accepted", func(t *testing.T) {
		client := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs:      ca.pool(),
					Certificates: []tls.Certificate{ca.clientCertificate(t, "citizen")},
					MinVersion:   tls.VersionTLS12,
				},
			},
		}

		resp, err := client.Get("https://" + l.BoundAddr())
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing client certificate fails the handshake", func(t *testing.T) {
		client := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: ca.pool(), MinVersion: tls.VersionTLS12},
			},
		}

		// The rejection happens at the TLS layer; no HTTP response is
		// ever produced.
		resp, err := client.Get("https://" + l.BoundAddr())
		if err == nil {
			resp.Body.Close()
		}
		require.Error(t, err)
	})

	t.Run("untrusted client certificate fails the handshake", func(t *testing.T) {
		rogue := newListenerCA(t)
		client := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs:      ca.pool(),
					Certificates: []tls.Certificate{rogue.clientCertificate(t, "intruder")},
					MinVersion:   tls.VersionTLS12,
				},
			},
		}

		resp, err := client.Get("https://" + l.BoundAddr())
		if err == nil {
			resp.Body.Close()
		}
		require.Error(t, err)
	})
}
