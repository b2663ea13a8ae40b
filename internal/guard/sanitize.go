package guard

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// maxTokenLength bounds accepted tokens; anything longer is rejected before
// signature verification is attempted.
const maxTokenLength = 4096

// ExtractBearer returns the Bearer token from the Authorization header, or
// "" if missing or malformed. The scheme match is case-insensitive.
func ExtractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// SanitizeToken strips CR, LF, and NUL from raw and validates what remains
// as a compact JWS: base64url characters and dots only, within length
// bounds. Returns the cleaned token and whether it is acceptable.
func SanitizeToken(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', 0:
			return -1
		}
		return r
	}, raw)
	if cleaned == "" || len(cleaned) > maxTokenLength {
		return "", false
	}
	for _, r := range cleaned {
		if !isTokenChar(r) {
			return "", false
		}
	}
	return cleaned, true
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}
