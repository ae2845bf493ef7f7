package http_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	oauthadapter "github.com/Choi-Seunghwan/IdP-server/internal/adapter/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	httptransport "github.com/Choi-Seunghwan/IdP-server/internal/http"
	"github.com/Choi-Seunghwan/IdP-server/internal/http/handler"
	httpmiddleware "github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
	"github.com/Choi-Seunghwan/IdP-server/internal/password"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/social"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/sso"
)

const (
	testIssuer   = "https://idp.test"
	testRedirect = "https://app.test/callback"
	testAdminKey = "admin-secret"
)

type server struct {
	router *gin.Engine
	client domain.OAuth2Client
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	keys, err := jwt.GenerateKeyProvider(2048, "test-key")
	require.NoError(t, err)
	codec := jwt.NewCodec(keys, testIssuer, 30*time.Minute, 7*24*time.Hour)

	users := repository.NewMemoryUserRepo()
	refresh := repository.NewMemoryRefreshTokenRepo()
	m := metrics.New()
	issuer := service.NewTokenIssuer(codec, refresh, users, m)
	auth := service.NewAuthService(users, refresh, issuer, zap.NewNop())

	hash, err := password.Hash("Secret123!")
	require.NoError(t, err)
	_, err = users.Create(ctx, domain.User{ID: "6a0c1f5e-0000-4000-8000-000000000001", Email: "a@x.com", Username: "alice", PasswordHash: hash, IsActive: true})
	require.NoError(t, err)

	node, err := ids.NewNode(3)
	require.NoError(t, err)
	clients := service.NewClientService(repository.NewMemoryClientRepo(), node, zap.NewNop())
	client, err := clients.CreateClient(ctx, service.CreateClientInput{Name: "web", ClientType: domain.ClientConfidential, RedirectURI: testRedirect})
	require.NoError(t, err)

	ssoSvc := sso.NewService(clients, repository.NewMemoryCodeRepo(), users, issuer, m, 10*time.Minute, zap.NewNop())
	socialSvc := social.NewService(oauthadapter.NewRegistry(), repository.NewMemoryEphemeralStore(), users,
		repository.NewMemorySocialAccountRepo(), auth, node, m, social.Options{}, zap.NewNop())

	cfg := config.Config{
		ServiceName:        "idp-test",
		AdminAPIKey:        testAdminKey,
		CORSAllowedOrigins: []string{"https://app.test"},
		CORSAllowedMethods: []string{"GET", "POST"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	cookie := handler.CookieConfig{Secure: true, MaxAge: 1800}
	router := httptransport.NewRouter(cfg, zap.NewNop(), httptransport.Handlers{
		Auth:   handler.NewAuthHandler(auth, cookie),
		Social: handler.NewSocialHandler(socialSvc, cookie),
		OAuth2: handler.NewOAuth2Handler(ssoSvc),
		Admin:  handler.NewAdminHandler(clients),
	}, httpmiddleware.NewAuth(auth), nil, m)

	return &server{router: router, client: client}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *server) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *server) login(t *testing.T) service.TokenPair {
	t.Helper()
	w := s.postJSON(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "Secret123!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[service.TokenPair](t, w)
}

func accessCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == httpmiddleware.AccessTokenCookie {
			return c
		}
	}
	return nil
}

func TestLoginScenario(t *testing.T) {
	s := newServer(t)

	w := s.postJSON(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "Secret123!"})
	require.Equal(t, http.StatusOK, w.Code)
	pair := decode[service.TokenPair](t, w)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, w.Header().Get(httpmiddleware.RequestIDHeader))

	cookie := accessCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, pair.AccessToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)

	w = s.postJSON(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[map[string]string](t, w)
	require.Equal(t, "invalid_grant", body["error"])

	w = s.postJSON(t, "/auth/login", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshScenario(t *testing.T) {
	s := newServer(t)
	first := s.login(t)

	w := s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[service.TokenPair](t, w)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": second.AccessToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": second.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutScenario(t *testing.T) {
	s := newServer(t)
	pair := s.login(t)

	w := s.postJSON(t, "/auth/logout", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, w.Code)
	cookie := accessCookie(w)
	require.NotNil(t, cookie)
	require.Empty(t, cookie.Value)
	require.Negative(t, cookie.MaxAge)

	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postJSON(t, "/auth/logout", map[string]string{"refresh_token": "garbage"})
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogoutAllScenario(t *testing.T) {
	s := newServer(t)
	a := s.login(t)
	b := s.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	w := s.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout-all?user_id=someone-else", nil)
	req.Header.Set("Authorization", "Bearer "+a.AccessToken)
	w = s.do(req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+a.AccessToken)
	w = s.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, rt := range []string{a.RefreshToken, b.RefreshToken} {
		w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": rt})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestRegisterAndMe(t *testing.T) {
	s := newServer(t)

	w := s.postJSON(t, "/auth/register", map[string]string{"email": "new@x.com", "password": "longenough", "username": "newbie"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[service.UserView](t, w)
	require.Equal(t, "new@x.com", view.Email)
	require.True(t, view.HasPassword)

	w = s.postJSON(t, "/auth/register", map[string]string{"email": "NEW@x.com", "password": "longenough"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.postJSON(t, "/auth/login", map[string]string{"email": "new@x.com", "password": "longenough"})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := accessCookie(w)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[service.UserView](t, w)
	require.Equal(t, view.ID, me.ID)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	require.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func (s *server) authorize(t *testing.T, accessToken string, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+query.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: httpmiddleware.AccessTokenCookie, Value: accessToken})
	return s.do(req)
}

func TestAuthorizationCodeScenario(t *testing.T) {
	s := newServer(t)
	pair := s.login(t)

	w := s.authorize(t, pair.AccessToken, url.Values{
		"response_type": {"code"},
		"client_id":     {s.client.ClientID},
		"redirect_uri":  {testRedirect},
		"scope":         {"openid email"},
		"state":         {"xyz"},
	})
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.test", location.Host)
	require.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	basic := base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(s.client.ClientID) + ":" + url.QueryEscape(s.client.ClientSecret)))
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirect},
	}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basic)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	tokens := decode[service.TokenResponse](t, w)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotEmpty(t, tokens.IDToken)
	require.Equal(t, "openid email", tokens.Scope)

	// replay
	w = s.postForm("/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {s.client.ClientID},
		"client_secret": {s.client.ClientSecret},
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/oauth2/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[sso.UserInfo](t, w)
	require.Equal(t, "a@x.com", info.Email)

	w = s.postJSON(t, "/oauth2/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": tokens.RefreshToken,
		"client_id":     s.client.ClientID,
		"client_secret": s.client.ClientSecret,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refreshed := decode[service.TokenResponse](t, w)
	require.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)
	require.NotEmpty(t, refreshed.IDToken)
}

func TestRefreshTokensStayWithTheirClient(t *testing.T) {
	s := newServer(t)
	pair := s.login(t)

	w := s.authorize(t, pair.AccessToken, url.Values{
		"response_type": {"code"},
		"client_id":     {s.client.ClientID},
		"redirect_uri":  {testRedirect},
		"scope":         {"openid email"},
	})
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = s.postForm("/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {location.Query().Get("code")},
		"redirect_uri":  {testRedirect},
		"client_id":     {s.client.ClientID},
		"client_secret": {s.client.ClientSecret},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	clientTokens := decode[service.TokenResponse](t, w)

	// a client's refresh token cannot be rotated without the client's credentials
	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": clientTokens.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// and a first-party refresh token cannot be redeemed by a client
	w = s.postJSON(t, "/oauth2/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": pair.RefreshToken,
		"client_id":     s.client.ClientID,
		"client_secret": s.client.ClientSecret,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// both tokens are still usable where they belong
	w = s.postJSON(t, "/oauth2/token", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": clientTokens.RefreshToken,
		"client_id":     s.client.ClientID,
		"client_secret": s.client.ClientSecret,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.postJSON(t, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRedirectMismatchScenario(t *testing.T) {
	s := newServer(t)
	pair := s.login(t)

	w := s.authorize(t, pair.AccessToken, url.Values{
		"response_type": {"code"},
		"client_id":     {s.client.ClientID},
		"redirect_uri":  {testRedirect},
	})
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = s.postForm("/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {location.Query().Get("code")},
		"redirect_uri":  {"https://evil.test/callback"},
		"client_id":     {s.client.ClientID},
		"client_secret": {s.client.ClientSecret},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authorize(t, pair.AccessToken, url.Values{
		"response_type": {"code"},
		"client_id":     {s.client.ClientID},
		"redirect_uri":  {"https://evil.test/callback"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, w.Header().Get("Location"))
}

func TestAuthorizeRequiresSession(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?response_type=code&client_id="+s.client.ClientID, nil)
	require.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestTokenEndpointErrors(t *testing.T) {
	s := newServer(t)

	w := s.postForm("/oauth2/token", url.Values{"grant_type": {"password"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "unsupported_grant_type", decode[map[string]string](t, w)["error"])

	w = s.postForm("/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"nope"},
		"client_id":     {s.client.ClientID},
		"client_secret": {"wrong"},
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscoveryAndJWKS(t *testing.T) {
	s := newServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[map[string]any](t, w)
	require.Equal(t, testIssuer, doc["issuer"])
	require.Equal(t, testIssuer+"/oauth2/authorize", doc["authorization_endpoint"])
	require.Equal(t, testIssuer+"/oauth2/jwks", doc["jwks_uri"])

	for _, path := range []string{"/oauth2/jwks", "/.well-known/jwks.json"} {
		w = s.do(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		set := decode[struct {
			Keys []map[string]any `json:"keys"`
		}](t, w)
		require.Len(t, set.Keys, 1)
		require.Equal(t, "RSA", set.Keys[0]["kty"])
		require.Equal(t, "test-key", set.Keys[0]["kid"])
		require.Nil(t, set.Keys[0]["d"])
	}
}

func TestAdminClients(t *testing.T) {
	s := newServer(t)
	body := map[string]string{"name": "cli", "client_type": "public", "redirect_uri": "http://127.0.0.1:9999/cb"}

	w := s.postJSON(t, "/admin/clients", body)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/clients", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpmiddleware.AdminKeyHeader, testAdminKey)
	w = s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[service.ClientView](t, w)
	require.True(t, strings.HasPrefix(view.ClientID, "client_"))
	require.Empty(t, view.ClientSecret)
}

func TestSocialUnknownProvider(t *testing.T) {
	s := newServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/social/google/login", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.postJSON(t, "/social/exchange", map[string]string{"code": "missing"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	s := newServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	s.login(t)
	w = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `idp_tokens_issued_total{type="access"}`)
	require.Contains(t, w.Body.String(), `http_requests_total`)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.test")
	w = s.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
