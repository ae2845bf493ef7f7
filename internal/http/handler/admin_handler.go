package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

// AdminHandler registers OAuth2 clients.
type AdminHandler struct {
	Clients *service.ClientService
}

// NewAdminHandler creates the handler set.
func NewAdminHandler(clients *service.ClientService) *AdminHandler {
	return &AdminHandler{Clients: clients}
}

// CreateClient handles POST /admin/clients. The secret is only ever returned here.
func (h *AdminHandler) CreateClient(c *gin.Context) {
	var req struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		ClientType  domain.ClientType `json:"client_type"`
		RedirectURI string            `json:"redirect_uri"`
		Scopes      string            `json:"scopes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	client, err := h.Clients.CreateClient(c.Request.Context(), service.CreateClientInput{
		Name:        req.Name,
		Description: req.Description,
		ClientType:  req.ClientType,
		RedirectURI: req.RedirectURI,
		Scopes:      req.Scopes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, service.NewClientView(client))
}
