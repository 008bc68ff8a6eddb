// Package mtls verifies client certificates presented during the TLS
// handshake.
//
// The trust store holds the configured CA bundles and optional CRL as an
// atomically swapped snapshot, optionally hot-reloaded when the files
// change. Verification checks chain trust, the validity window, and
// revocation; the certificate subject DN becomes the request principal.
package mtls
