package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

const (
	claimsKey = "accessClaims"

	// AccessTokenCookie carries the access token for browser flows.
	AccessTokenCookie = "access_token"
)

// Auth validates the access token on protected routes and attaches its claims.
type Auth struct {
	AuthService *service.AuthService
}

// NewAuth builds the middleware.
func NewAuth(auth *service.AuthService) *Auth {
	return &Auth{AuthService: auth}
}

// ValidateJWT requires a valid access token from the Authorization header or the access_token cookie.
func (m *Auth) ValidateJWT(c *gin.Context) {
	token, ok := AccessToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "access token required"})
		return
	}
	claims, err := m.AuthService.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "access token is invalid or expired"})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

// AccessToken extracts the bearer token, falling back to the access_token cookie.
func AccessToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// GetClaims returns the claims attached by ValidateJWT.
func GetClaims(c *gin.Context) (*jwt.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*jwt.Claims)
	return claims, ok
}

// UserID returns the authenticated subject.
func UserID(c *gin.Context) string {
	claims, ok := GetClaims(c)
	if !ok {
		return ""
	}
	return claims.Subject
}
