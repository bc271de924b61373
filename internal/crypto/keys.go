package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParsePrivateKeyPEM parses a PKCS#1, PKCS#8, or SEC1 PEM-encoded private
// key, returning whichever concrete type (*rsa.PrivateKey,
// *ecdsa.PrivateKey, ed25519.PrivateKey) NewDetailSigner and
// IssueKickoffJWT already dispatch on by type switch.
func ParsePrivateKeyPEM(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	if ed, ok := key.(ed25519.PrivateKey); ok {
		return ed, nil
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PKIX PEM-encoded public key, for verifying
// kickoff JWTs and delegated-scan detail signatures.
func ParsePublicKeyPEM(data []byte) (any, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	return key, nil
}
