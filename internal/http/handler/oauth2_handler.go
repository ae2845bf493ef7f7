package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/sso"
)

// OAuth2Handler serves the authorization server and OIDC endpoints.
type OAuth2Handler struct {
	SSO *sso.Service
}

// NewOAuth2Handler creates the handler set.
func NewOAuth2Handler(svc *sso.Service) *OAuth2Handler {
	return &OAuth2Handler{SSO: svc}
}

type authorizeQuery struct {
	ResponseType        string `form:"response_type"`
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
}

type tokenForm struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// Authorize handles GET /oauth2/authorize for an authenticated user and redirects back to the
// client with the code.
func (h *OAuth2Handler) Authorize(c *gin.Context) {
	var q authorizeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid authorize request")
		return
	}

	code, err := h.SSO.CreateAuthorizationCode(c.Request.Context(), middleware.UserID(c), sso.AuthorizeRequest{
		ResponseType:        q.ResponseType,
		ClientID:            q.ClientID,
		RedirectURI:         q.RedirectURI,
		Scope:               q.Scope,
		State:               q.State,
		CodeChallenge:       q.CodeChallenge,
		CodeChallengeMethod: q.CodeChallengeMethod,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	target, err := url.Parse(code.RedirectURI)
	if err != nil {
		respondError(c, err)
		return
	}
	values := target.Query()
	values.Set("code", code.Code)
	if q.State != "" {
		values.Set("state", q.State)
	}
	target.RawQuery = values.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// Token handles POST /oauth2/token. Client credentials may come from the body or HTTP Basic auth.
func (h *OAuth2Handler) Token(c *gin.Context) {
	var form tokenForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, "invalid token request")
		return
	}

	if rawID, rawSecret, ok := c.Request.BasicAuth(); ok {
		id, idErr := url.QueryUnescape(rawID)
		secret, secretErr := url.QueryUnescape(rawSecret)
		if idErr != nil || secretErr != nil {
			badRequest(c, "malformed client credentials")
			return
		}
		if form.ClientID != "" && form.ClientID != id {
			badRequest(c, "client_id does not match the authenticated client")
			return
		}
		form.ClientID, form.ClientSecret = id, secret
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	resp, err := h.SSO.Token(c.Request.Context(), sso.TokenRequest{
		GrantType:    strings.TrimSpace(form.GrantType),
		Code:         form.Code,
		RedirectURI:  form.RedirectURI,
		ClientID:     form.ClientID,
		ClientSecret: form.ClientSecret,
		CodeVerifier: form.CodeVerifier,
		RefreshToken: form.RefreshToken,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UserInfo handles GET /oauth2/userinfo.
func (h *OAuth2Handler) UserInfo(c *gin.Context) {
	token, ok := middleware.AccessToken(c)
	if !ok {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "access token required"})
		return
	}
	info, err := h.SSO.UserInfo(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// JWKS exposes the public signing key.
func (h *OAuth2Handler) JWKS(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, h.SSO.JWKS())
}

// OpenIDConfig returns the OpenID discovery document.
func (h *OAuth2Handler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.SSO.OpenIDConfiguration())
}
