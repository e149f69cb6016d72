package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := GenerateKey()
	require.NoError(t, err)
	return pub, priv
}

func claimsExpiringAt(exp time.Time) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			Issuer:    "isul-test",
			Subject:   "KEY-1",
		},
		ProductID:    "demo",
		Fingerprint:  "fp-1",
		ActivationID: "act-1",
		Plan:         "pro",
		Licensee:     "ACME",
		Features:     []string{"export", "sync"},
	}
}

func sign(t *testing.T, priv ed25519.PrivateKey, c *Claims) string {
	t.Helper()
	s, err := Sign(priv, c)
	require.NoError(t, err)
	return s
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("valid token returns claims", func(t *testing.T) {
		t.Parallel()
		pub, priv := testKeyPair(t)
		tok := sign(t, priv, claimsExpiringAt(time.Now().Add(24*time.Hour)))

		got, err := Verify(pub, tok)
		require.NoError(t, err)
		assert.Equal(t, "demo", got.ProductID)
		assert.Equal(t, "act-1", got.ActivationID)
		assert.Equal(t, ClaimsVersion, got.Version)
		assert.True(t, got.HasFeature("sync"))
		assert.False(t, got.HasFeature("admin"))
	})

	t.Run("expired token returns ErrExpired", func(t *testing.T) {
		t.Parallel()
		pub, priv := testKeyPair(t)
		tok := sign(t, priv, claimsExpiringAt(time.Now().Add(-time.Hour)))

		got, err := Verify(pub, tok)
		require.ErrorIs(t, err, ErrExpired)
		assert.Nil(t, got)
	})

	t.Run("wrong key returns ErrInvalid", func(t *testing.T) {
		t.Parallel()
		_, priv := testKeyPair(t)
		other, _ := testKeyPair(t)
		tok := sign(t, priv, claimsExpiringAt(time.Now().Add(time.Hour)))

		_, err := Verify(other, tok)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("tampered payload returns ErrInvalid", func(t *testing.T) {
		t.Parallel()
		pub, priv := testKeyPair(t)
		tok := sign(t, priv, claimsExpiringAt(time.Now().Add(time.Hour)))
		parts := strings.Split(tok, ".")
		require.Len(t, parts, 3)
		payload := []byte(parts[1])
		if payload[0] == 'A' {
			payload[0] = 'B'
		} else {
			payload[0] = 'A'
		}
		parts[1] = string(payload)

		_, err := Verify(pub, strings.Join(parts, "."))
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("HS256 token is rejected", func(t *testing.T) {
		t.Parallel()
		pub, _ := testKeyPair(t)
		hs := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsExpiringAt(time.Now().Add(time.Hour)))
		tok, err := hs.SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = Verify(pub, tok)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		t.Parallel()
		pub, _ := testKeyPair(t)
		_, err := Verify(pub, "not-a-jwt")
		require.ErrorIs(t, err, ErrInvalid)
	})
}

func TestVerifyLenient(t *testing.T) {
	t.Parallel()

	t.Run("expired token is accepted", func(t *testing.T) {
		t.Parallel()
		pub, priv := testKeyPair(t)
		exp := time.Now().Add(-48 * time.Hour)
		tok := sign(t, priv, claimsExpiringAt(exp))

		got, err := VerifyLenient(pub, tok)
		require.NoError(t, err)
		assert.True(t, got.Expired(time.Now()))
		assert.WithinDuration(t, exp, got.ExpiresTime(), time.Second)
	})

	t.Run("bad signature is still rejected", func(t *testing.T) {
		t.Parallel()
		_, priv := testKeyPair(t)
		other, _ := testKeyPair(t)
		tok := sign(t, priv, claimsExpiringAt(time.Now().Add(-time.Hour)))

		_, err := VerifyLenient(other, tok)
		require.ErrorIs(t, err, ErrInvalid)
	})
}

func TestClaims_Bind(t *testing.T) {
	t.Parallel()

	c := claimsExpiringAt(time.Now().Add(time.Hour))
	require.NoError(t, c.Bind("demo", "fp-1"))

	err := c.Bind("other", "fp-1")
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, ErrProductMismatch)

	err = c.Bind("demo", "fp-2")
	require.ErrorIs(t, err, ErrMachineMismatch)

	c.Fingerprint = ""
	assert.NoError(t, c.Bind("demo", "anything"), "unbound tokens are portable")
}

func TestParsePublicKey(t *testing.T) {
	t.Parallel()

	pub, _ := testKeyPair(t)
	got, err := ParsePublicKey(EncodePublicKey(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, got)

	_, err = ParsePublicKey("!!!")
	require.ErrorIs(t, err, ErrPublicKey)

	_, err = ParsePublicKey("c2hvcnQ=")
	require.ErrorIs(t, err, ErrPublicKey)
}

func TestClaims_PerpetualToken(t *testing.T) {
	t.Parallel()

	c := &Claims{ProductID: "demo"}
	assert.True(t, c.ExpiresTime().IsZero())
	assert.False(t, c.Expired(time.Now().Add(100*365*24*time.Hour)))
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t)

	fromSeed, err := ParsePrivateKey(EncodePrivateKey(priv))
	require.NoError(t, err)
	assert.Equal(t, priv, fromSeed)
	assert.Equal(t, pub, fromSeed.Public())

	full, err := ParsePrivateKey(base64.StdEncoding.EncodeToString(priv))
	require.NoError(t, err)
	assert.Equal(t, priv, full)

	_, err = ParsePrivateKey("c2hvcnQ=")
	require.ErrorIs(t, err, ErrPrivateKey)
}
