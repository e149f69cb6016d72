// Package token signs and verifies ISUL activation tokens.
//
// An activation token is a compact JWT signed with Ed25519 (EdDSA). It binds a
// license activation to one product and one machine fingerprint and can be
// verified fully offline with the license service's public key.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsVersion is the schema version written into new tokens.
const ClaimsVersion = 1

// Sentinel errors returned by the verification functions.
var (
	ErrInvalid         = errors.New("token verification failed")
	ErrExpired         = errors.New("token expired")
	ErrPublicKey       = errors.New("invalid public key")
	ErrPrivateKey      = errors.New("invalid private key")
	ErrProductMismatch = errors.New("token issued for a different product")
	ErrMachineMismatch = errors.New("token issued for a different machine")
)

// Claims are the ISUL-specific JWT claims of an activation token.
type Claims struct {
	jwt.RegisteredClaims

	Version      int      `json:"cv"`
	ProductID    string   `json:"pid"`
	Fingerprint  string   `json:"fp"`
	ActivationID string   `json:"aid"`
	Plan         string   `json:"plan,omitempty"`
	Licensee     string   `json:"licensee,omitempty"`
	Seats        int      `json:"seats,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// HasFeature returns true if the given feature is included in the claims.
func (c *Claims) HasFeature(name string) bool {
	return slices.Contains(c.Features, name)
}

// ExpiresTime returns the expiry time, or the zero time for perpetual tokens.
func (c *Claims) ExpiresTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedTime returns the issue time, or the zero time when absent.
func (c *Claims) IssuedTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Expired reports whether the token has expired at now.
func (c *Claims) Expired(now time.Time) bool {
	exp := c.ExpiresTime()
	return !exp.IsZero() && !now.Before(exp)
}

// Bind checks that the claims belong to productID and, when the token carries
// one, to the given machine fingerprint.
func (c *Claims) Bind(productID, fingerprint string) error {
	if c.ProductID != productID {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, ErrProductMismatch, c.ProductID)
	}
	if c.Fingerprint != "" && c.Fingerprint != fingerprint {
		return fmt.Errorf("%w: %w", ErrInvalid, ErrMachineMismatch)
	}
	return nil
}

// GenerateKey creates a new Ed25519 signing key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// EncodePublicKey returns the base64 form accepted by ParsePublicKey.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKey decodes a base64-encoded Ed25519 public key.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d, expected %d", ErrPublicKey, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePrivateKey returns the base64 form of the key's 32-byte seed.
func EncodePrivateKey(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv.Seed())
}

// ParsePrivateKey decodes a base64 Ed25519 seed or full private key.
func ParsePrivateKey(b64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrPrivateKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, fmt.Errorf("%w: key length %d", ErrPrivateKey, len(raw))
}

// Sign produces a signed token for the given claims.
func Sign(priv ed25519.PrivateKey, claims *Claims) (string, error) {
	if claims.Version == 0 {
		claims.Version = ClaimsVersion
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := t.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and fully validates a token, including its expiry.
func Verify(pub ed25519.PublicKey, tokenString string) (*Claims, error) {
	claims, err := parse(pub, tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}

// VerifyLenient checks the signature and structure of a token but ignores
// time-based claims, so callers can apply their own grace policy to expired
// tokens.
func VerifyLenient(pub ed25519.PublicKey, tokenString string) (*Claims, error) {
	claims, err := parse(pub, tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}

func parse(pub ed25519.PublicKey, tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrPublicKey
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return pub, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Version > ClaimsVersion {
		return nil, fmt.Errorf("unsupported claims version %d", claims.Version)
	}
	return claims, nil
}
