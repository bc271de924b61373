package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KickoffClaimTTL is the issuer-side expiry window; servers additionally
// tolerate up to KickoffClockSkew of clock drift when checking exp.
const (
	KickoffClaimTTL  = 10 * time.Minute
	KickoffClockSkew = 60 * time.Second
)

// IssueKickoffJWT signs a RegisteredClaims token with privateKey, selecting
// the signing method from the key's concrete type: RSA -> RS256, ECDSA ->
// ES256, Ed25519 -> EdDSA. This mirrors the App.GenerateJWT pattern used for
// GitHub App authentication, generalized to whichever key type a kickoff
// caller configures.
func IssueKickoffJWT(privateKey any, issuer string) (string, error) {
	method, err := signingMethodFor(privateKey)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-KickoffClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(KickoffClaimTTL)),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(method, claims)
	return token.SignedString(privateKey)
}

func signingMethodFor(key any) (jwt.SigningMethod, error) {
	switch key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported private key type %T", key)
	}
}

func verifyingMethodFor(key any) (jwt.SigningMethod, error) {
	switch key.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		return jwt.SigningMethodES256, nil
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported public key type %T", key)
	}
}

// VerifyKickoffJWT validates a bearer token against publicKey, enforcing exp
// with the same KickoffClockSkew leeway used at issuance. Returns the parsed
// claims on success.
func VerifyKickoffJWT(token string, publicKey any) (*jwt.RegisteredClaims, error) {
	method, err := verifyingMethodFor(publicKey)
	if err != nil {
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("crypto: unexpected signing method %q", t.Method.Alg())
		}
		return publicKey, nil
	}, jwt.WithLeeway(KickoffClockSkew))
	if err != nil {
		return nil, fmt.Errorf("crypto: jwt verification failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("crypto: jwt invalid")
	}

	return claims, nil
}
