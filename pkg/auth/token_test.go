package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate-dev/trustgate/pkg/cache"
	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
)

const testKeyID = "test-key-id"

// testSigner holds the signing key and the JWKS server publishing its
// public half.
type testSigner struct {
	privateKey *rsa.PrivateKey
	jwksServer *httptest.Server
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")

	key, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err, "failed to create JWK from public key")
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(key))

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keySet); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	t.Cleanup(jwksServer.Close)

	return &testSigner{privateKey: privateKey, jwksServer: jwksServer}
}

func (s *testSigner) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(s.privateKey)
	require.NoError(t, err, "failed to sign token")
	return signed
}

func newTestValidator(t *testing.T, signer *testSigner) *TokenValidator {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	validator, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuers:  []string{"https://issuer.example.com"},
		Audience: "https://gateway.example.com",
		JWKSURL:  signer.jwksServer.URL,
	}, NewReplayGuard(store))
	require.NoError(t, err)
	return validator
}

func validClaims(jti string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":    "https://issuer.example.com",
		"aud":    "https://gateway.example.com",
		"sub":    "user-123",
		"jti":    jti,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"iat":    time.Now().Add(-time.Minute).Unix(),
		"org_id": "org-a",
		"env_id": "env-1",
		"scope":  "tools:invoke secrets:read",
	}
}

func TestValidateToken_Valid(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	identity, err := validator.ValidateToken(context.Background(), signer.sign(t, validClaims("jti-valid")))
	require.NoError(t, err)

	assert.Equal(t, "user-123", identity.Subject)
	assert.Equal(t, "org-a", identity.OrganizationID)
	assert.Equal(t, "env-1", identity.EnvironmentID)
	assert.Equal(t, "jti-valid", identity.TokenID)
	assert.False(t, identity.ServiceAccount)
	assert.Equal(t, []string{"tools:invoke", "secrets:read"}, identity.Scopes)
	assert.True(t, identity.HasScope("tools:invoke"))
	assert.False(t, identity.HasScope("admin"))
}

func TestValidateToken_ScpArrayClaim(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	claims := validClaims("jti-scp")
	delete(claims, "scope")
	claims["scp"] = []string{"tools:invoke"}
	claims["service_account"] = true

	identity, err := validator.ValidateToken(context.Background(), signer.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, []string{"tools:invoke"}, identity.Scopes)
	assert.True(t, identity.ServiceAccount)
}

func TestValidateToken_Failures(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	tests := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		wantType string
	}{
		{
			name:     "expired",
			mutate:   func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
			wantType: tgerr.ErrExpiredToken,
		},
		{
			name:     "untrusted issuer",
			mutate:   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			wantType: tgerr.ErrInvalidIssuer,
		},
		{
			name:     "wrong audience",
			mutate:   func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" },
			wantType: tgerr.ErrInvalidAudience,
		},
		{
			name:     "missing jti",
			mutate:   func(c jwt.MapClaims) { delete(c, "jti") },
			wantType: tgerr.ErrInvalidToken,
		},
		{
			name:     "missing subject",
			mutate:   func(c jwt.MapClaims) { delete(c, "sub") },
			wantType: tgerr.ErrInvalidToken,
		},
		{
			name:     "missing expiry",
			mutate:   func(c jwt.MapClaims) { delete(c, "exp") },
			wantType: tgerr.ErrInvalidToken,
		},
		{
			name: "expiry before issued-at",
			mutate: func(c jwt.MapClaims) {
				c["iat"] = time.Now().Add(2 * time.Hour).Unix()
				c["exp"] = time.Now().Add(time.Hour).Unix()
			},
			wantType: tgerr.ErrInvalidToken,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims := validClaims(fmt.Sprintf("jti-fail-%d", i))
			tt.mutate(claims)

			_, err := validator.ValidateToken(context.Background(), signer.sign(t, claims))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, tgerr.Type(err), "unexpected error type: %v", err)
		})
	}
}

func TestValidateToken_InvalidSignature(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	// Sign with a different key than the one published in the JWKS, under
	// the same key ID.
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	impostor := &testSigner{privateKey: otherKey}

	_, err = validator.ValidateToken(context.Background(), impostor.sign(t, validClaims("jti-forged")))
	require.Error(t, err)
	assert.Equal(t, tgerr.ErrInvalidSignature, tgerr.Type(err))
}

func TestValidateToken_Replay(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)
	tokenString := signer.sign(t, validClaims("jti-once"))

	_, err := validator.ValidateToken(context.Background(), tokenString)
	require.NoError(t, err, "first presentation must succeed")

	_, err = validator.ValidateToken(context.Background(), tokenString)
	require.Error(t, err, "second presentation must fail")
	assert.Equal(t, tgerr.ErrTokenReplayed, tgerr.Type(err))
}

func TestValidateToken_ExpiredDoesNotConsumeTokenID(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	claims := validClaims("jti-late")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := validator.ValidateToken(context.Background(), signer.sign(t, claims))
	require.Error(t, err)
	assert.Equal(t, tgerr.ErrExpiredToken, tgerr.Type(err),
		"expiry is checked before the replay guard")

	// The token-id was never marked, so a fresh valid token reusing it
	// passes.
	_, err = validator.ValidateToken(context.Background(), signer.sign(t, validClaims("jti-late")))
	require.NoError(t, err)
}

func TestValidateToken_Revoke(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	validator := newTestValidator(t, signer)

	require.NoError(t, validator.Revoke(context.Background(), "jti-killed"))

	_, err := validator.ValidateToken(context.Background(), signer.sign(t, validClaims("jti-killed")))
	require.Error(t, err)
	assert.Equal(t, tgerr.ErrTokenReplayed, tgerr.Type(err))
}

func TestNewTokenValidator_OIDCDiscovery(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)

	var issuerServer *httptest.Server
	issuerServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OIDCDiscoveryDocument{
			Issuer:  issuerServer.URL,
			JWKSURI: signer.jwksServer.URL,
		})
	}))
	t.Cleanup(issuerServer.Close)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	validator, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuers:  []string{issuerServer.URL},
		Audience: "https://gateway.example.com",
	}, NewReplayGuard(store))
	require.NoError(t, err)
	assert.Equal(t, signer.jwksServer.URL, validator.jwksURL)

	claims := validClaims("jti-discovered")
	claims["iss"] = issuerServer.URL
	identity, err := validator.ValidateToken(context.Background(), signer.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "user-123", identity.Subject)
}

func TestNewTokenValidator_NoIssuerOrJWKSURL(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	_, err := NewTokenValidator(context.Background(), TokenValidatorConfig{}, NewReplayGuard(store))
	require.ErrorIs(t, err, ErrMissingIssuerAndJWKSURL)
}
