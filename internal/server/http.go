// Package server assembles the HTTP API: health, session endpoints, and the
// security summary, with the guard middleware in front of everything under
// /api/.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"minutes-maker/backend/internal/guard"
	"minutes-maker/backend/internal/secmon"
	sessionrepo "minutes-maker/backend/internal/session/repository"
)

// SessionControl is the subset of the session service the handlers need.
type SessionControl interface {
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateUserSessions(ctx context.Context, userID string) (int64, error)
	Statistics(ctx context.Context) (*sessionrepo.Stats, error)
}

// Summarizer reports recent security events.
type Summarizer interface {
	Summary(window time.Duration) *secmon.Summary
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
}

// New assembles the server. guard must be non-nil; monitor may be nil, the
// security summary then reports no events.
func New(addr string, g *guard.Guard, sessions SessionControl, monitor Summarizer) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/session", handleSession)
	api.HandleFunc("DELETE /api/session", handleSignOut(sessions))
	api.HandleFunc("POST /api/sessions/revoke", handleRevokeAll(sessions))
	api.HandleFunc("GET /api/security/summary", handleSecuritySummary(sessions, monitor))
	mux.Handle("/api/", g.Middleware(api))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the assembled routes. For tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := guard.GetUserID(r.Context())
	sessionID, _ := guard.GetSessionID(r.Context())
	subject, _ := guard.GetSubject(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":    userID,
		"session_id": sessionID,
		"subject":    subject,
	})
}

func handleSignOut(sessions SessionControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := guard.GetSessionID(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		if err := sessions.InvalidateSession(r.Context(), sessionID); err != nil {
			log.Printf("server: sign out: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
	}
}

func handleRevokeAll(sessions SessionControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := guard.GetUserID(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		n, err := sessions.InvalidateUserSessions(r.Context(), userID)
		if err != nil {
			log.Printf("server: revoke sessions: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "sessions": n})
	}
}

func handleSecuritySummary(sessions SessionControl, monitor Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		if monitor != nil {
			s := monitor.Summary(time.Hour)
			out["events"] = map[string]any{
				"total":       s.Total,
				"by_type":     s.ByType,
				"by_severity": s.BySeverity,
			}
		}
		if stats, err := sessions.Statistics(r.Context()); err != nil {
			log.Printf("server: session statistics: %v", err)
		} else {
			out["sessions"] = map[string]int64{
				"active":          stats.Active,
				"expired_active":  stats.ExpiredActive,
				"recently_active": stats.RecentlyActive,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
