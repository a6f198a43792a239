package model

import (
	"regexp"
	"strings"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveSchemaName maps an application identifier to its database schema:
// lowercased, every non-alphanumeric run replaced by "_", outer "_" trimmed.
func DeriveSchemaName(appIdentifier string) string {
	s := nonAlnumRun.ReplaceAllString(strings.ToLower(appIdentifier), "_")
	return strings.Trim(s, "_")
}
