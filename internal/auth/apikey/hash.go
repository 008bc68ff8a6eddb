package apikey

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Supported hash algorithms for stored keys.
const (
	HashAlgPlaintext = "plaintext"
	HashAlgSHA256    = "sha256"
	HashAlgSHA512    = "sha512"
	HashAlgBcrypt    = "bcrypt"
)

// HashKey hashes a plaintext key under the given algorithm, producing
// the stored form.
func HashKey(key, algorithm string) (string, error) {
	switch algorithm {
	case HashAlgPlaintext:
		return key, nil
	case HashAlgSHA256:
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgSHA512:
		sum := sha512.Sum512([]byte(key))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// ValidAlgorithm reports whether algorithm names a supported hash.
func ValidAlgorithm(algorithm string) bool {
	switch algorithm {
	case HashAlgPlaintext, HashAlgSHA256, HashAlgSHA512, HashAlgBcrypt:
		return true
	}
	return false
}

// matchKey compares a provided key against a stored form in constant
// time.
func matchKey(provided, stored, algorithm string) bool {
	switch algorithm {
	case HashAlgPlaintext:
		return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1

	case HashAlgSHA256:
		sum := sha256.Sum256([]byte(provided))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(stored)) == 1

	case HashAlgSHA512:
		sum := sha512.Sum512([]byte(provided))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(stored)) == 1

	case HashAlgBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil

	default:
		return false
	}
}
