package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

// AuthHandler serves first-party login, refresh, logout and registration.
type AuthHandler struct {
	Auth   *service.AuthService
	Cookie CookieConfig
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{Auth: auth, Cookie: cookie}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		badRequest(c, "email and password are required")
		return
	}

	pair, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Cookie.setAccessToken(c, pair.AccessToken)
	c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Cookie.setAccessToken(c, pair.AccessToken)
	c.JSON(http.StatusOK, pair)
}

// Logout handles POST /auth/logout. It always clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	if req.RefreshToken != "" {
		if err := h.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
			respondError(c, err)
			return
		}
	}
	h.Cookie.clearAccessToken(c)
	c.Status(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all for the authenticated user.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID := middleware.UserID(c)
	if target := strings.TrimSpace(c.Query("user_id")); target != "" && target != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "cannot log out another user"})
		return
	}
	if _, err := h.Auth.LogoutAll(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	h.Cookie.clearAccessToken(c)
	c.Status(http.StatusNoContent)
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	user, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, service.NewUserView(user))
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.Auth.UserProfile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewUserView(user))
}
