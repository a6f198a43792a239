// Package supakey signs a user in through the Supakey broker: PKCE
// authorization, migration deployment to the user's own database and
// issuance of app tokens for it.
package supakey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// PKCE is a verifier and its S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a 64 character hex verifier from 32 random bytes.
func NewPKCE() (PKCE, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return PKCE{}, fmt.Errorf("failed to generate verifier: %w", err)
	}
	v := hex.EncodeToString(buf)
	return PKCE{Verifier: v, Challenge: Challenge(v)}, nil
}

// Challenge is base64url(SHA-256(verifier)) without padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthorizeURL builds the broker's authorize page URL.
func AuthorizeURL(frontendURL, clientID, redirectURI, challenge, appIdentifier string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("app_identifier", appIdentifier)
	return strings.TrimRight(frontendURL, "/") + "/oauth/authorize?" + q.Encode()
}
