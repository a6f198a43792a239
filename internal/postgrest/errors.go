package postgrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeSchemaCacheStale is reported while the server has not yet loaded a
// freshly migrated schema.
const CodeSchemaCacheStale = "PGRST002"

// Error is a non-2xx response from the REST or auth endpoints.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("postgrest")
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	fmt.Fprintf(&b, " (%d): %s", e.Status, e.Message)
	if e.Details != "" {
		b.WriteString(": " + e.Details)
	}
	return b.String()
}

func parseError(status int, body []byte) error {
	e := &Error{Status: status}
	var raw struct {
		Code             interface{} `json:"code"`
		Message          string      `json:"message"`
		Details          interface{} `json:"details"`
		Hint             interface{} `json:"hint"`
		Error            string      `json:"error"`
		ErrorDescription string      `json:"error_description"`
		Msg              string      `json:"msg"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		e.Code = stringify(raw.Code)
		e.Details = stringify(raw.Details)
		e.Hint = stringify(raw.Hint)
		e.Message = firstNonEmpty(raw.Message, raw.ErrorDescription, raw.Msg, raw.Error)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%d", int64(t))
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsSchemaCacheStale reports whether err carries the PGRST002 signature.
func IsSchemaCacheStale(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Code == CodeSchemaCacheStale {
		return true
	}
	return strings.Contains(err.Error(), CodeSchemaCacheStale)
}

// IsSchemaNotReady is wider than IsSchemaCacheStale: it also matches the
// missing relation and schema errors seen right after a migration deploy.
func IsSchemaNotReady(err error) bool {
	if err == nil {
		return false
	}
	if IsSchemaCacheStale(err) {
		return true
	}
	msg := err.Error()
	var pe *Error
	if errors.As(err, &pe) {
		msg = pe.Message + " " + pe.Details + " " + pe.Hint
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "relation") || strings.Contains(msg, "schema")
}
