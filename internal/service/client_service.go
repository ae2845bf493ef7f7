package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

// errClientAuth deliberately does not say whether the client or the secret was wrong.
var errClientAuth = domain.NotFound("invalid_client", "client authentication failed")

// CreateClientInput describes a client registration.
type CreateClientInput struct {
	Name        string
	Description string
	ClientType  domain.ClientType
	RedirectURI string
	Scopes      string
}

// ClientService registers OAuth2 clients and authenticates them at the token endpoint.
type ClientService struct {
	Observer
	clients repository.ClientRepository
	node    *ids.Node
}

// NewClientService wires dependencies.
func NewClientService(clients repository.ClientRepository, node *ids.Node, logger *zap.Logger) *ClientService {
	return &ClientService{
		Observer: NewObserver(logger, "github.com/Choi-Seunghwan/IdP-server/internal/service"),
		clients:  clients,
		node:     node,
	}
}

// CreateClient registers a client. Confidential clients receive a generated secret.
func (s *ClientService) CreateClient(ctx context.Context, in CreateClientInput) (domain.OAuth2Client, error) {
	ctx, span := s.StartSpan(ctx, "ClientService.CreateClient")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.OAuth2Client{}, domain.BadRequest("invalid_client_metadata", "name is required")
	}
	if in.ClientType == "" {
		in.ClientType = domain.ClientConfidential
	}
	if !in.ClientType.Valid() {
		return domain.OAuth2Client{}, domain.BadRequest("invalid_client_metadata", "client_type must be confidential or public")
	}
	redirect, err := url.Parse(strings.TrimSpace(in.RedirectURI))
	if err != nil || !redirect.IsAbs() || redirect.Host == "" || redirect.Fragment != "" {
		return domain.OAuth2Client{}, domain.BadRequest("invalid_redirect_uri", "redirect_uri must be an absolute URL without fragment")
	}
	scopes := strings.Join(domain.ParseScopes(in.Scopes), " ")
	if scopes == "" {
		scopes = domain.DefaultScopes
	}

	clientID, err := RandomToken(16)
	if err != nil {
		return domain.OAuth2Client{}, err
	}
	client := domain.OAuth2Client{
		ID:          s.node.Next(),
		ClientID:    "client_" + clientID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		ClientType:  in.ClientType,
		RedirectURI: redirect.String(),
		GrantTypes:  domain.GrantAuthorizationCode + "," + domain.GrantRefreshToken,
		Scopes:      scopes,
		IsActive:    true,
	}
	if client.IsConfidential() {
		if client.ClientSecret, err = RandomToken(32); err != nil {
			return domain.OAuth2Client{}, err
		}
	}

	created, err := s.clients.Create(ctx, client)
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.OAuth2Client{}, domain.Conflict("client_exists", "client id collision, retry")
	}
	if err != nil {
		span.RecordError(err)
		return domain.OAuth2Client{}, fmt.Errorf("create client: %w", err)
	}
	s.Audit("client.created", "client_id", created.ClientID, "client_type", created.ClientType)
	return created, nil
}

// GetClient loads an active client.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (domain.OAuth2Client, error) {
	client, err := s.clients.GetByClientID(ctx, strings.TrimSpace(clientID))
	if errors.Is(err, repository.ErrNotFound) {
		return domain.OAuth2Client{}, domain.NotFound("invalid_client", "unknown client")
	}
	if err != nil {
		return domain.OAuth2Client{}, fmt.Errorf("load client: %w", err)
	}
	if !client.IsActive {
		return domain.OAuth2Client{}, domain.NotFound("invalid_client", "unknown client")
	}
	return client, nil
}

// VerifyClient authenticates a client. Confidential clients must present their secret and public
// clients must present none.
func (s *ClientService) VerifyClient(ctx context.Context, clientID, secret string) (domain.OAuth2Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		if _, ok := domain.AsError(err); ok {
			return domain.OAuth2Client{}, errClientAuth
		}
		return domain.OAuth2Client{}, err
	}

	if client.IsConfidential() {
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(client.ClientSecret)) != 1 {
			s.Audit("client.auth.failed", "client_id", client.ClientID)
			return domain.OAuth2Client{}, errClientAuth
		}
		return client, nil
	}
	if secret != "" {
		s.Audit("client.auth.failed", "client_id", client.ClientID, "reason", "public_client_secret")
		return domain.OAuth2Client{}, errClientAuth
	}
	return client, nil
}
