package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
)

func writePEM(t *testing.T, dir, name, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600))
	return path
}

func TestLoadKeyProviderPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	privPath := writePEM(t, dir, "private.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := writePEM(t, dir, "public.pem", "PUBLIC KEY", pubDER)

	provider, err := LoadKeyProvider(config.Config{Environment: "production", JWTPrivateKeyPath: privPath, JWTPublicKeyPath: pubPath, JWTKeyID: "main"}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "main", provider.KeyID())
	require.True(t, provider.PublicKey().Equal(&key.PublicKey))
}

func TestLoadKeyProviderPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	privPath := writePEM(t, t.TempDir(), "private.pem", "PRIVATE KEY", der)

	provider, err := LoadKeyProvider(config.Config{Environment: "production", JWTPrivateKeyPath: privPath}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, provider.KeyID())
}

func TestLoadKeyProviderRejectsMismatchedPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	privPath := writePEM(t, dir, "private.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	pubPath := writePEM(t, dir, "public.pem", "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(&other.PublicKey))

	_, err = LoadKeyProvider(config.Config{Environment: "production", JWTPrivateKeyPath: privPath, JWTPublicKeyPath: pubPath}, nil)
	require.ErrorContains(t, err, "does not match")
}

func TestLoadKeyProviderRequiresKeyOutsideDevelopment(t *testing.T) {
	_, err := LoadKeyProvider(config.Config{Environment: "production"}, nil)
	require.Error(t, err)

	provider, err := LoadKeyProvider(config.Config{Environment: "development"}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, provider.JWKS().Keys, 1)
}

func TestThumbprintKeyIDIsStable(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	a, err := NewKeyProvider(key, "")
	require.NoError(t, err)
	b, err := NewKeyProvider(key, "")
	require.NoError(t, err)
	require.Equal(t, a.KeyID(), b.KeyID())
}

func TestParsePEMRejectsGarbage(t *testing.T) {
	_, err := ParseRSAPrivateKeyPEM([]byte("nope"))
	require.Error(t, err)
	_, err = ParseRSAPublicKeyPEM([]byte("nope"))
	require.Error(t, err)
}
