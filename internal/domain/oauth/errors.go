package oauth

import "errors"

var (
	// ErrProviderNotConfigured signals a known provider without client credentials.
	ErrProviderNotConfigured = errors.New("oauth: provider not configured")
	// ErrInvalidState indicates the callback state is missing, expired or bound to another provider.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrExchangeFailed indicates the provider rejected the authorization code.
	ErrExchangeFailed = errors.New("oauth: code exchange failed")
	// ErrProfileFailed indicates the provider profile endpoint could not be read.
	ErrProfileFailed = errors.New("oauth: profile fetch failed")
)
