package guard

import (
	"log"
	"net"
	"net/http"
	"strings"
)

// Refresh response headers. Set when a silent refresh replaced the client's
// tokens mid-request.
const (
	HeaderNewAccessToken = "X-New-Access-Token"
	HeaderNewIDToken     = "X-New-Id-Token"
)

// Middleware wraps next with the full authentication pipeline: origin
// validation, bearer extraction, rate limiting, and token/session
// reconciliation. On success the caller identity is attached to the request
// context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if aerr := g.CheckOrigin(r); aerr != nil {
			writeAuthError(w, aerr)
			return
		}

		id, aerr := g.Authenticate(r.Context(), ExtractBearer(r), ClientIP(r), r.UserAgent())
		if aerr != nil {
			if aerr.Code == CodeInternal {
				log.Printf("guard: %v", aerr.Err)
			}
			writeAuthError(w, aerr)
			return
		}

		if id.Refreshed != nil {
			w.Header().Set(HeaderNewAccessToken, id.Refreshed.AccessToken)
			if id.Refreshed.IDToken != "" {
				w.Header().Set(HeaderNewIDToken, id.Refreshed.IDToken)
			}
		}
		ctx := WithIdentity(r.Context(), id.UserID, id.SessionID, id.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the client IP from X-Forwarded-For (first hop),
// X-Real-Ip, or the remote address, or "unknown".
func ClientIP(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		if s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-Ip")); s != "" {
		return s
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeAuthError(w http.ResponseWriter, aerr *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.Code.HTTPStatus())
	_, _ = w.Write(marshalError(aerr.Code))
}
