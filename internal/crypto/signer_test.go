package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestCompositeVerifierEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signer, err := NewDetailSigner(priv)
	if err != nil {
		t.Fatalf("NewDetailSigner: %v", err)
	}

	payload := []byte("delegated-scan-details-canonical-binary")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	v := NewCompositeVerifier()
	if err := v.Verify(payload, sig, pub); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestCompositeVerifierRejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	signer, _ := NewDetailSigner(priv)
	sig, _ := signer.Sign([]byte("original"))

	v := NewCompositeVerifier()
	if err := v.Verify([]byte("tampered"), sig, pub); err == nil {
		t.Fatalf("expected verification failure for tampered payload")
	}
}

func TestCompositeVerifierRejectsUnsupportedKey(t *testing.T) {
	v := NewCompositeVerifier()
	if err := v.Verify([]byte("x"), []byte("y"), "not-a-key"); err == nil {
		t.Fatalf("expected unsupported key type to fail")
	}
}
