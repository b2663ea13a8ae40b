package guard

import (
	"net/http"
	"net/url"
	"strings"
)

// stateChanging lists the methods that must pass origin validation.
// Safe methods are exempt; they cannot be driven cross-site to mutate state.
var stateChanging = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// CheckOrigin validates the request origin for state-changing methods
// against the allow-list. Origin is consulted first, then Referer. A request
// carrying neither header is allowed: non-browser clients send no origin
// and the bearer token remains the real authentication.
func (g *Guard) CheckOrigin(r *http.Request) *AuthError {
	if !stateChanging[r.Method] {
		return nil
	}

	candidate := strings.TrimSpace(r.Header.Get("Origin"))
	if candidate == "" {
		ref := strings.TrimSpace(r.Header.Get("Referer"))
		if ref == "" {
			return nil
		}
		u, err := url.Parse(ref)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return authErr(CodeCSRFFailed, nil)
		}
		candidate = u.Scheme + "://" + u.Host
	}

	for _, allowed := range g.allowedOrigins {
		if originEqual(candidate, allowed) {
			return nil
		}
	}
	return authErr(CodeCSRFFailed, nil)
}

func originEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "/"), strings.TrimSuffix(strings.TrimSpace(b), "/"))
}
