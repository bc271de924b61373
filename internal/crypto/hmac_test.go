package crypto

import "testing"

func TestSignAndVerifyHMAC(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"hello":"world"}`)

	header, err := SignHMAC(secret, body, HMACSHA256)
	if err != nil {
		t.Fatalf("SignHMAC: %v", err)
	}

	if !VerifyHMAC(header, secret, body) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyHMACRejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	header, err := SignHMAC([]byte("secret-a"), body, HMACSHA256)
	if err != nil {
		t.Fatalf("SignHMAC: %v", err)
	}

	if VerifyHMAC(header, []byte("secret-b"), body) {
		t.Fatalf("expected signature verification to fail with wrong secret")
	}
}

func TestVerifyHMACRejectsMalformedHeader(t *testing.T) {
	if VerifyHMAC("not-a-valid-header", []byte("secret"), []byte("payload")) {
		t.Fatalf("expected malformed header to fail verification")
	}
}

func TestVerifyHMACRejectsUnknownAlg(t *testing.T) {
	if VerifyHMAC("md5=deadbeef", []byte("secret"), []byte("payload")) {
		t.Fatalf("expected unknown alg to fail verification")
	}
}
