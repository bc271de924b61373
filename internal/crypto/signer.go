package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// DetailSigner signs the canonical binary "details" of a delegated scan
// message. DetailVerifier checks the corresponding signature. Both are
// implemented per key type following a Strategy pattern (each algorithm
// owns its Sign/Verify; a Composite picks the right one by key type) — the
// same shape as the multi-algorithm signature verifier used elsewhere in
// the retrieval pack for agent payload authentication.
type DetailSigner interface {
	Sign(payload []byte) ([]byte, error)
}

type DetailVerifier interface {
	Verify(payload, signature []byte, publicKey crypto.PublicKey) error
	Supports(publicKey crypto.PublicKey) bool
}

// NewDetailSigner selects a signing strategy from the private key's
// concrete type. Fails closed on unrecognized types.
func NewDetailSigner(privateKey crypto.PrivateKey) (DetailSigner, error) {
	switch k := privateKey.(type) {
	case *rsa.PrivateKey:
		return &rsaSigner{key: k}, nil
	case *ecdsa.PrivateKey:
		return &ecdsaSigner{key: k}, nil
	case ed25519.PrivateKey:
		return &ed25519Signer{key: k}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported private key type %T", privateKey)
	}
}

// CompositeVerifier tries each registered verifier in turn, using the first
// one whose Supports matches the public key's type.
type CompositeVerifier struct {
	verifiers []DetailVerifier
}

// NewCompositeVerifier returns a verifier supporting RSA-PSS, ECDSA
// (any curve), and Ed25519 public keys, in that priority order.
func NewCompositeVerifier() *CompositeVerifier {
	return &CompositeVerifier{
		verifiers: []DetailVerifier{
			rsaVerifier{},
			ecdsaVerifier{},
			ed25519Verifier{},
		},
	}
}

// Verify fails closed: an agent never processes a message whose
// details_signature does not verify against the configured public key
// (spec invariant 8.1).
func (c *CompositeVerifier) Verify(payload, signature []byte, publicKey crypto.PublicKey) error {
	for _, v := range c.verifiers {
		if v.Supports(publicKey) {
			return v.Verify(payload, signature, publicKey)
		}
	}
	return fmt.Errorf("crypto: unsupported public key type %T", publicKey)
}

// --- RSA (PSS over SHA-256) ---

type rsaSigner struct{ key *rsa.PrivateKey }

func (s *rsaSigner) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	return rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], nil)
}

type rsaVerifier struct{}

func (rsaVerifier) Supports(pub crypto.PublicKey) bool {
	_, ok := pub.(*rsa.PublicKey)
	return ok
}

func (rsaVerifier) Verify(payload, signature []byte, pub crypto.PublicKey) error {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("crypto: expected *rsa.PublicKey, got %T", pub)
	}
	digest := sha256.Sum256(payload)
	return rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], signature, nil)
}

// --- ECDSA (raw r||s over SHA-256) ---

type ecdsaSigner struct{ key *ecdsa.PrivateKey }

func (s *ecdsaSigner) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, err
	}
	size := (s.key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	sVal.FillBytes(out[size:])
	return out, nil
}

type ecdsaVerifier struct{}

func (ecdsaVerifier) Supports(pub crypto.PublicKey) bool {
	_, ok := pub.(*ecdsa.PublicKey)
	return ok
}

func (ecdsaVerifier) Verify(payload, signature []byte, pub crypto.PublicKey) error {
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("crypto: expected *ecdsa.PublicKey, got %T", pub)
	}
	size := (ecdsaPub.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*size {
		return fmt.Errorf("crypto: malformed ecdsa signature length %d", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:size])
	s := new(big.Int).SetBytes(signature[size:])
	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(ecdsaPub, digest[:], r, s) {
		return fmt.Errorf("crypto: ecdsa signature verification failed")
	}
	return nil
}

// --- Ed25519 ---

type ed25519Signer struct{ key ed25519.PrivateKey }

func (s *ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.key, payload), nil
}

type ed25519Verifier struct{}

func (ed25519Verifier) Supports(pub crypto.PublicKey) bool {
	_, ok := pub.(ed25519.PublicKey)
	return ok
}

func (ed25519Verifier) Verify(payload, signature []byte, pub crypto.PublicKey) error {
	ed25519Pub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("crypto: expected ed25519.PublicKey, got %T", pub)
	}
	if !ed25519.Verify(ed25519Pub, payload, signature) {
		return fmt.Errorf("crypto: ed25519 signature verification failed")
	}
	return nil
}
