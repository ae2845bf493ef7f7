package jwt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
)

const developmentKeyBits = 2048

// KeyProvider holds the RSA signing key pair. It is read-only after construction.
type KeyProvider struct {
	private *rsa.PrivateKey
	kid     string
}

// NewKeyProvider wraps an RSA private key. When kid is empty the RFC 7638 thumbprint is used.
func NewKeyProvider(private *rsa.PrivateKey, kid string) (*KeyProvider, error) {
	if private == nil {
		return nil, errors.New("private key is required")
	}
	if kid == "" {
		thumb, err := (&jose.JSONWebKey{Key: &private.PublicKey}).Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("key thumbprint: %w", err)
		}
		kid = base64.RawURLEncoding.EncodeToString(thumb)
	}
	return &KeyProvider{private: private, kid: kid}, nil
}

// GenerateKeyProvider creates a provider around a fresh RSA key.
func GenerateKeyProvider(bits int, kid string) (*KeyProvider, error) {
	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewKeyProvider(private, kid)
}

// LoadKeyProvider reads the key pair named by cfg. Outside development a private key file is required.
func LoadKeyProvider(cfg config.Config, logger *zap.Logger) (*KeyProvider, error) {
	if cfg.JWTPrivateKeyPath == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("JWT_PRIVATE_KEY_PATH is required")
		}
		if logger != nil {
			logger.Warn("no signing key configured, generating an ephemeral development key")
		}
		return GenerateKeyProvider(developmentKeyBits, cfg.JWTKeyID)
	}

	raw, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	private, err := ParseRSAPrivateKeyPEM(raw)
	if err != nil {
		return nil, err
	}

	if cfg.JWTPublicKeyPath != "" {
		rawPub, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		public, err := ParseRSAPublicKeyPEM(rawPub)
		if err != nil {
			return nil, err
		}
		if !public.Equal(&private.PublicKey) {
			return nil, errors.New("public key does not match private key")
		}
	}

	return NewKeyProvider(private, cfg.JWTKeyID)
}

// ParseRSAPrivateKeyPEM accepts PKCS#1 and PKCS#8 encoded keys.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key: not an RSA key")
	}
	return key, nil
}

// ParseRSAPublicKeyPEM accepts PKIX and PKCS#1 encoded public keys.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key: not an RSA key")
	}
	return key, nil
}

// KeyID returns the kid placed in token headers and the JWKS.
func (p *KeyProvider) KeyID() string {
	return p.kid
}

// PublicKey returns the verification key.
func (p *KeyProvider) PublicKey() *rsa.PublicKey {
	return &p.private.PublicKey
}

func (p *KeyProvider) signingKey() jose.SigningKey {
	return jose.SigningKey{Algorithm: jose.RS256, Key: p.private}
}

// JWKS returns the public JSON Web Key Set.
func (p *KeyProvider) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       p.PublicKey(),
			KeyID:     p.kid,
			Use:       "sig",
			Algorithm: string(jose.RS256),
		}},
	}
}
