package jwt

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken covers malformed, badly signed, expired and wrongly typed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of access and refresh tokens.
type Claims struct {
	gojwt.Claims
	Type     string `json:"type"`
	Email    string `json:"email,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// IDTokenClaims is the payload of an OpenID Connect ID token.
type IDTokenClaims struct {
	gojwt.Claims
	Email             string `json:"email,omitempty"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Codec signs and verifies RS256 tokens.
type Codec struct {
	keys       *KeyProvider
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec constructs a codec issuing tokens as issuer.
func NewCodec(keys *KeyProvider, issuer string, accessTTL, refreshTTL time.Duration, opts ...Option) *Codec {
	c := &Codec{
		keys:       keys,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issuer returns the iss value placed in every token.
func (c *Codec) Issuer() string {
	return c.issuer
}

// AccessTTL returns the default access token lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// RefreshTTL returns the refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// Now returns the codec clock reading.
func (c *Codec) Now() time.Time {
	return c.now()
}

// CreateAccessToken signs an access token. A zero ttl uses the configured default.
func (c *Codec) CreateAccessToken(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	claims.Type = TypeAccess
	return c.sign(&claims, ttl)
}

// CreateRefreshToken signs a refresh token with the configured refresh lifetime.
func (c *Codec) CreateRefreshToken(claims Claims) (string, error) {
	claims.Type = TypeRefresh
	return c.sign(&claims, c.refreshTTL)
}

func (c *Codec) sign(claims *Claims, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", errors.New("sign token: subject is required")
	}
	now := c.now().UTC()
	claims.ID = uuid.NewString()
	claims.IssuedAt = gojwt.NewNumericDate(now)
	claims.Expiry = gojwt.NewNumericDate(now.Add(ttl))
	if claims.Issuer == "" {
		claims.Issuer = c.issuer
	}
	return c.serialize(claims)
}

// CreateIDToken signs an ID token for the audience in claims. Issuer, iat and exp are filled in.
func (c *Codec) CreateIDToken(claims IDTokenClaims) (string, error) {
	if claims.Subject == "" || len(claims.Audience) == 0 {
		return "", errors.New("sign id token: subject and audience are required")
	}
	now := c.now().UTC()
	claims.Issuer = c.issuer
	claims.IssuedAt = gojwt.NewNumericDate(now)
	claims.Expiry = gojwt.NewNumericDate(now.Add(c.accessTTL))
	return c.serialize(claims)
}

func (c *Codec) serialize(claims any) (string, error) {
	signer, err := gojose.NewSigner(c.keys.signingKey(), (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", c.keys.KeyID()))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}
	token, err := gojwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Decode verifies the signature and expiry and returns the claims.
func (c *Codec) Decode(token string) (*Claims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if err := parsed.Claims(c.keys.PublicKey(), &claims); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}
	if claims.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if err := claims.ValidateWithLeeway(gojwt.Expected{Time: c.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// Verify decodes token and checks that it carries the expected type.
func (c *Codec) Verify(token, expectedType string) (*Claims, error) {
	claims, err := c.Decode(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != expectedType {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, expectedType)
	}
	return claims, nil
}

// JWKS returns the public keys that verify tokens from this codec.
func (c *Codec) JWKS() gojose.JSONWebKeySet {
	return c.keys.JWKS()
}
