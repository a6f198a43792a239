package session

import (
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ProjectRef returns the first DNS label of the database URL host, which
// hosted Supabase uses as the project reference.
func ProjectRef(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// KeyRef returns the "ref" claim of a public key without verifying it.
func KeyRef(publicKey string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(publicKey, claims); err != nil {
		return "", false
	}
	ref, ok := claims["ref"].(string)
	return ref, ok && ref != ""
}

// EffectiveAPIKey returns publicKey when it belongs to the project behind
// databaseURL, and accessToken otherwise.
func EffectiveAPIKey(databaseURL, publicKey, accessToken string) string {
	if publicKey == "" {
		return accessToken
	}
	ref, ok := KeyRef(publicKey)
	if !ok || ref != ProjectRef(databaseURL) {
		return accessToken
	}
	return publicKey
}
