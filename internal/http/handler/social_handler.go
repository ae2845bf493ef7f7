package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/social"
)

// SocialHandler serves social login and account linking.
type SocialHandler struct {
	Social *social.Service
	Cookie CookieConfig
}

// NewSocialHandler creates the handler set.
func NewSocialHandler(svc *social.Service, cookie CookieConfig) *SocialHandler {
	return &SocialHandler{Social: svc, Cookie: cookie}
}

// Login handles GET /social/:provider/login.
func (h *SocialHandler) Login(c *gin.Context) {
	start, err := h.Social.StartLogin(c.Request.Context(), c.Param("provider"), c.Query("redirect"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, start)
}

// Callback handles GET /social/:provider/callback. With a stored redirect the browser is sent back
// to the app carrying the exchange code; otherwise the code is returned as JSON.
func (h *SocialHandler) Callback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_denied", "error_description": providerErr})
		return
	}
	result, err := h.Social.HandleCallback(c.Request.Context(), c.Param("provider"), c.Query("code"), c.Query("state"))
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Redirect == "" {
		c.JSON(http.StatusOK, result)
		return
	}

	target, err := url.Parse(result.Redirect)
	if err != nil {
		respondError(c, err)
		return
	}
	q := target.Query()
	q.Set("code", result.Code)
	q.Set("is_new_user", strconv.FormatBool(result.IsNewUser))
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// Exchange handles POST /social/exchange.
func (h *SocialHandler) Exchange(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	grant, err := h.Social.RedeemExchangeCode(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Cookie.setAccessToken(c, grant.AccessToken)
	c.JSON(http.StatusOK, grant)
}

// Connect handles POST /social/connect.
func (h *SocialHandler) Connect(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		Code     string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	account, err := h.Social.Connect(c.Request.Context(), middleware.UserID(c), req.Provider, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// Accounts handles GET /social/accounts.
func (h *SocialHandler) Accounts(c *gin.Context) {
	accounts, err := h.Social.ListAccounts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// Disconnect handles DELETE /social/accounts/:id.
func (h *SocialHandler) Disconnect(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid account id")
		return
	}
	if err := h.Social.Disconnect(c.Request.Context(), middleware.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
