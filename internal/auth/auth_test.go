package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/auth"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestHashAndVerifyOperatorKey(t *testing.T) {
	hash, err := auth.HashOperatorKey("op-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyOperatorKey("op-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyOperatorKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = auth.HashOperatorKey("")
	require.Error(t, err)
}

func TestVerifyOperatorKey_MalformedHash(t *testing.T) {
	_, err := auth.VerifyOperatorKey("k", "no-separator")
	require.Error(t, err)

	_, err = auth.VerifyOperatorKey("k", "!!!$AAAA")
	require.Error(t, err)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, discard)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("alice", auth.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.RoleOperator, claims.Role)
}

func TestIssueToken_RejectsBadInput(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, discard)
	require.NoError(t, err)

	_, _, err = mgr.IssueToken("  ", auth.RoleAdmin)
	require.Error(t, err)

	_, _, err = mgr.IssueToken("alice", auth.Role("root"))
	require.Error(t, err)
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, auth.RoleAdmin.AtLeast(auth.RoleOperator))
	assert.True(t, auth.RoleOperator.AtLeast(auth.RoleOperator))
	assert.False(t, auth.RoleViewer.AtLeast(auth.RoleOperator))
	assert.False(t, auth.Role("").AtLeast(auth.Role("")))

	r, err := auth.ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, r)

	_, err = auth.ParseRole("superuser")
	require.Error(t, err)
}

// newTestJWTManagerWithKey creates a JWTManager backed by a real Ed25519 key pair
// written to temp PEM files, and returns the raw private key for forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	privPath, pubPath, priv := writeKeyPair(t)
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour, discard)
	require.NoError(t, err)
	return mgr, priv
}

func writeKeyPair(t *testing.T) (string, string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0600))

	return privPath, pubPath, priv
}

// forgeToken signs a JWT with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func validClaims(now time.Time) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "mamori",
			Audience:  jwt.ClaimStrings{"mamori"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: auth.RoleOperator,
	}
}

func TestValidateToken_PEMKeys(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	c := validClaims(time.Now().UTC())

	claims, err := mgr.ValidateToken(forgeToken(t, privKey, &c))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateToken_Rejections(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	now := time.Now().UTC()

	tests := []struct {
		name   string
		mutate func(c *auth.Claims)
		is     error
		want   string
	}{
		{"wrong issuer", func(c *auth.Claims) { c.Issuer = "not-mamori" }, jwt.ErrTokenInvalidIssuer, ""},
		{"empty issuer", func(c *auth.Claims) { c.Issuer = "" }, jwt.ErrTokenRequiredClaimMissing, ""},
		{"wrong audience", func(c *auth.Claims) { c.Audience = jwt.ClaimStrings{"billing"} }, jwt.ErrTokenInvalidAudience, ""},
		{"no expiry", func(c *auth.Claims) { c.ExpiresAt = nil }, jwt.ErrTokenRequiredClaimMissing, ""},
		{"expired", func(c *auth.Claims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute)) }, jwt.ErrTokenExpired, ""},
		{"no subject", func(c *auth.Claims) { c.Subject = "" }, nil, "no subject"},
		{"bad role", func(c *auth.Claims) { c.Role = "root" }, nil, "invalid role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validClaims(now)
			tt.mutate(&c)
			_, err := mgr.ValidateToken(forgeToken(t, privKey, &c))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateToken_ForeignKey(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)
	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	c := validClaims(time.Now().UTC())
	_, err = mgr.ValidateToken(forgeToken(t, other, &c))
	require.Error(t, err)
}

func TestValidateToken_RejectsHMAC(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)
	c := validClaims(time.Now().UTC())
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &c).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected signing method")
}

func TestNewJWTManager_MismatchedKeys(t *testing.T) {
	privPath, _, _ := writeKeyPair(t)
	_, otherPub, _ := writeKeyPair(t)

	_, err := auth.NewJWTManager(privPath, otherPub, time.Hour, discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestNewJWTManager_MissingFile(t *testing.T) {
	_, err := auth.NewJWTManager("/nonexistent/priv.pem", "/nonexistent/pub.pem", time.Hour, discard)
	require.Error(t, err)
}

func TestGenerateKeyFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	require.NoError(t, auth.GenerateKeyFiles(privPath, pubPath))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour, discard)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("olga", auth.RoleAdmin)
	require.NoError(t, err)
	_, err = mgr.ValidateToken(token)
	require.NoError(t, err)

	err = auth.GenerateKeyFiles(privPath, pubPath)
	require.ErrorIs(t, err, auth.ErrKeyExists)
}
