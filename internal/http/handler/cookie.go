package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
)

// CookieConfig controls the access_token cookie set on first-party logins.
type CookieConfig struct {
	Secure bool
	MaxAge int
}

func (cc CookieConfig) setAccessToken(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, token, cc.MaxAge, "/", "", cc.Secure, true)
}

func (cc CookieConfig) clearAccessToken(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", cc.Secure, true)
}
