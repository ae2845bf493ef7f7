package sso

import (
	"crypto/subtle"

	"golang.org/x/oauth2"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

// verifyPKCE checks verifier against the challenge stored with the code.
func verifyPKCE(code domain.AuthorizationCode, verifier string) error {
	if code.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return domain.BadRequest("invalid_request", "code_verifier is required")
	}

	var computed string
	switch code.CodeChallengeMethod {
	case domain.CodeChallengeS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case domain.CodeChallengePlain, "":
		computed = verifier
	default:
		return domain.BadRequest("invalid_request", "unsupported code_challenge_method")
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(code.CodeChallenge)) != 1 {
		return domain.Unauthorized("invalid_grant", "code_verifier does not match")
	}
	return nil
}
