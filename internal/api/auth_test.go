package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hashvault.io/internal/auth"
	"hashvault.io/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuthHandler(t *testing.T) *AuthHandler {
	t.Helper()
	store, err := auth.NewChallengeStore(16)
	require.NoError(t, err)
	cfg := &config.Config{JWTSecret: testSecret, TokenTTLMin: 60}
	return NewAuthHandler(store, cfg, zap.NewNop())
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf)))
	return rec
}

func TestLoginFlow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := auth.DeriveAddress(pub)
	h := newAuthHandler(t)

	rec := postJSON(t, h.Challenge, "/api/auth/challenge", ChallengeRequest{Address: address})
	require.Equal(t, http.StatusOK, rec.Code)
	var ch ChallengeResponse
	decodeBody(t, rec, &ch)
	require.NotEmpty(t, ch.Nonce)

	sig := ed25519.Sign(priv, []byte(ch.Nonce))
	rec = postJSON(t, h.Verify, "/api/auth/verify", VerifyRequest{
		Address:   address,
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var tok TokenResponse
	decodeBody(t, rec, &tok)
	assert.Equal(t, address, tok.Principal)

	claims, err := auth.ValidateToken(tok.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, address, claims.Principal)
}

// A client may send the address in any hex casing; the issued token must
// carry the canonical key-derived form so one key never maps to two ledger
// principals.
func TestLoginCanonicalizesPrincipal(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	canonical := auth.DeriveAddress(pub)
	variant := "0x" + strings.ToUpper(canonical[2:])
	require.NotEqual(t, canonical, variant)

	h := newAuthHandler(t)

	rec := postJSON(t, h.Challenge, "/api/auth/challenge", ChallengeRequest{Address: variant})
	require.Equal(t, http.StatusOK, rec.Code)
	var ch ChallengeResponse
	decodeBody(t, rec, &ch)

	sig := ed25519.Sign(priv, []byte(ch.Nonce))
	rec = postJSON(t, h.Verify, "/api/auth/verify", VerifyRequest{
		Address:   variant,
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var tok TokenResponse
	decodeBody(t, rec, &tok)
	assert.Equal(t, canonical, tok.Principal)

	claims, err := auth.ValidateToken(tok.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, canonical, claims.Principal)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := auth.DeriveAddress(pub)

	h := newAuthHandler(t)

	rec := postJSON(t, h.Challenge, "/api/auth/challenge", ChallengeRequest{Address: address})
	require.Equal(t, http.StatusOK, rec.Code)
	var ch ChallengeResponse
	decodeBody(t, rec, &ch)

	sig := ed25519.Sign(otherPriv, []byte(ch.Nonce))
	rec = postJSON(t, h.Verify, "/api/auth/verify", VerifyRequest{
		Address:   address,
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(sig),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
