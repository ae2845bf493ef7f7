package oauth

import (
	"encoding/json"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	domainoauth "github.com/Choi-Seunghwan/IdP-server/internal/domain/oauth"
)

// GoogleDescriptor reads the OpenID userinfo document.
func GoogleDescriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name:         domain.ProviderGoogle,
		Endpoint:     endpoints.Google,
		ProfileURL:   "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
		ParseProfile: parseGoogleProfile,
	}
}

func parseGoogleProfile(body []byte) (domainoauth.Profile, error) {
	var raw struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		return domainoauth.Profile{}, err
	}
	return domainoauth.Profile{ProviderUserID: raw.Sub, Email: raw.Email, Name: raw.Name}, nil
}

// KakaoDescriptor reads /v2/user/me.
func KakaoDescriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name: domain.ProviderKakao,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://kauth.kakao.com/oauth/authorize",
			TokenURL:  "https://kauth.kakao.com/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL:   "https://kapi.kakao.com/v2/user/me",
		Scopes:       []string{"account_email", "profile_nickname"},
		ParseProfile: parseKakaoProfile,
	}
}

func parseKakaoProfile(body []byte) (domainoauth.Profile, error) {
	var raw struct {
		ID           json.Number `json:"id"`
		KakaoAccount struct {
			Email   string `json:"email"`
			Profile struct {
				Nickname string `json:"nickname"`
			} `json:"profile"`
		} `json:"kakao_account"`
		Properties struct {
			Nickname string `json:"nickname"`
		} `json:"properties"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		return domainoauth.Profile{}, err
	}
	name := raw.KakaoAccount.Profile.Nickname
	if name == "" {
		name = raw.Properties.Nickname
	}
	return domainoauth.Profile{
		ProviderUserID: raw.ID.String(),
		Email:          raw.KakaoAccount.Email,
		Name:           name,
	}, nil
}

// NaverDescriptor reads /v1/nid/me, which wraps the profile in a response envelope.
func NaverDescriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name: domain.ProviderNaver,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
			TokenURL:  "https://nid.naver.com/oauth2.0/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL:   "https://openapi.naver.com/v1/nid/me",
		ParseProfile: parseNaverProfile,
	}
}

func parseNaverProfile(body []byte) (domainoauth.Profile, error) {
	var raw struct {
		ResultCode string `json:"resultcode"`
		Response   struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			Name     string `json:"name"`
			Nickname string `json:"nickname"`
		} `json:"response"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		return domainoauth.Profile{}, err
	}
	name := strings.TrimSpace(raw.Response.Name)
	if name == "" {
		name = raw.Response.Nickname
	}
	return domainoauth.Profile{ProviderUserID: raw.Response.ID, Email: raw.Response.Email, Name: name}, nil
}
