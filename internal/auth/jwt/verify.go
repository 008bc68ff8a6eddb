package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rsa"
	"fmt"
	"math/big"
)

// verifySignature checks the token signature with key under alg. The
// key's concrete type must match the algorithm family.
func verifySignature(alg string, key any, signingInput string, signature []byte) error {
	switch alg {
	case AlgHS256:
		return verifyHMAC(key, signingInput, signature, crypto.SHA256)
	case AlgHS384:
		return verifyHMAC(key, signingInput, signature, crypto.SHA384)
	case AlgHS512:
		return verifyHMAC(key, signingInput, signature, crypto.SHA512)
	case AlgRS256:
		return verifyRSA(key, signingInput, signature, crypto.SHA256)
	case AlgRS384:
		return verifyRSA(key, signingInput, signature, crypto.SHA384)
	case AlgRS512:
		return verifyRSA(key, signingInput, signature, crypto.SHA512)
	case AlgES256:
		return verifyECDSA(key, signingInput, signature, crypto.SHA256, 32)
	case AlgES384:
		return verifyECDSA(key, signingInput, signature, crypto.SHA384, 48)
	case AlgES512:
		return verifyECDSA(key, signingInput, signature, crypto.SHA512, 66)
	default:
		return fmt.Errorf("unsupported algorithm %q", alg)
	}
}

func digest(input string, hash crypto.Hash) []byte {
	h := hash.New()
	h.Write([]byte(input))
	return h.Sum(nil)
}

func verifyHMAC(key any, signingInput string, signature []byte, hash crypto.Hash) error {
	secret, ok := key.([]byte)
	if !ok {
		return fmt.Errorf("HMAC verification requires a secret, got %T", key)
	}

	mac := hmac.New(hash.New, secret)
	mac.Write([]byte(signingInput))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return fmt.Errorf("HMAC signature mismatch")
	}
	return nil
}

func verifyRSA(key any, signingInput string, signature []byte, hash crypto.Hash) error {
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("RSA verification requires an RSA public key, got %T", key)
	}

	if err := rsa.VerifyPKCS1v15(rsaKey, hash, digest(signingInput, hash), signature); err != nil {
		return fmt.Errorf("RSA signature verification failed")
	}
	return nil
}

// verifyECDSA checks a raw r || s signature of the given component
// size.
func verifyECDSA(key any, signingInput string, signature []byte, hash crypto.Hash, componentSize int) error {
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("ECDSA verification requires an ECDSA public key, got %T", key)
	}

	if len(signature) != 2*componentSize {
		return fmt.Errorf("ECDSA signature has wrong length %d", len(signature))
	}

	r := new(big.Int).SetBytes(signature[:componentSize])
	s := new(big.Int).SetBytes(signature[componentSize:])

	if !ecdsa.Verify(ecdsaKey, digest(signingInput, hash), r, s) {
		return fmt.Errorf("ECDSA signature verification failed")
	}
	return nil
}
