package guard

import (
	"context"
	"encoding/json"

	auditpkg "minutes-maker/backend/internal/audit"
	auditdomain "minutes-maker/backend/internal/audit/domain"
	"minutes-maker/backend/internal/idp"
	"minutes-maker/backend/internal/ratelimit"
	"minutes-maker/backend/internal/secmon"
	"minutes-maker/backend/internal/session/service"
)

// Synchronizer reconciles a verified token against session and user state.
type Synchronizer interface {
	ValidateAndSync(ctx context.Context, rawToken, clientIP, userAgent string) (*service.Result, error)
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID    string
	SessionID string
	Subject   string
	Email     string
	// Refreshed carries replacement tokens after a silent refresh; the
	// transport layer hands them back to the client.
	Refreshed *idp.TokenSet
}

// Guard runs the authentication pipeline for HTTP and WebSocket traffic.
// limiter, monitor, and audit may each be nil; the corresponding step is
// then skipped.
type Guard struct {
	sync           Synchronizer
	limiter        *ratelimit.Limiter
	monitor        *secmon.Monitor
	audit          auditpkg.EventLogger
	allowedOrigins []string
}

// New wires a Guard.
func New(sync Synchronizer, limiter *ratelimit.Limiter, monitor *secmon.Monitor, audit auditpkg.EventLogger, allowedOrigins []string) *Guard {
	return &Guard{
		sync:           sync,
		limiter:        limiter,
		monitor:        monitor,
		audit:          audit,
		allowedOrigins: allowedOrigins,
	}
}

// Authenticate validates rawToken and reconciles session state. It returns
// the caller identity or an AuthError carrying a client-facing code.
// Detection and audit hooks run inline but never fail the request.
func (g *Guard) Authenticate(ctx context.Context, rawToken, clientIP, userAgent string) (*Identity, *AuthError) {
	if rawToken == "" {
		return nil, authErr(CodeMissingToken, nil)
	}
	cleaned, ok := SanitizeToken(rawToken)
	if !ok {
		return nil, authErr(CodeInvalidTokenFormat, nil)
	}

	if g.limiter != nil && clientIP != "" {
		if d := g.limiter.Check(clientIP, ratelimit.OpTokenVerify); !d.Allowed {
			g.logEvent(ctx, &auditdomain.AuthEvent{
				EventType: "token_verification",
				Result:    auditpkg.ResultFailure,
				IP:        clientIP,
				UserAgent: userAgent,
				Metadata:  string(CodeRateLimited),
			})
			return nil, authErr(CodeRateLimited, nil)
		}
		g.limiter.Record(clientIP, ratelimit.OpTokenVerify)
	}

	res, err := g.sync.ValidateAndSync(ctx, cleaned, clientIP, userAgent)
	if err != nil {
		aerr := classify(err)
		if aerr.Code != CodeInternal {
			if g.monitor != nil {
				g.monitor.RecordAuthFailure(ctx, clientIP, clientIP)
			}
			g.logEvent(ctx, &auditdomain.AuthEvent{
				EventType: "token_verification",
				Result:    auditpkg.ResultFailure,
				IP:        clientIP,
				UserAgent: userAgent,
				Metadata:  string(aerr.Code),
			})
		}
		return nil, aerr
	}

	id := &Identity{
		UserID:    res.User.ID,
		SessionID: res.Session.ID,
		Subject:   res.User.Subject,
		Email:     res.User.Email,
		Refreshed: res.Refreshed,
	}
	if res.Created {
		identifier := res.User.Email
		if identifier == "" {
			identifier = res.User.Subject
		}
		if g.monitor != nil {
			g.monitor.RecordAuthSuccess(ctx, identifier, clientIP)
		}
		g.logEvent(ctx, &auditdomain.AuthEvent{
			UserID:     res.User.ID,
			Identifier: identifier,
			EventType:  "session_created",
			Result:     auditpkg.ResultSuccess,
			IP:         clientIP,
			UserAgent:  userAgent,
		})
	}
	if res.Refreshed != nil {
		g.logEvent(ctx, &auditdomain.AuthEvent{
			UserID:    res.User.ID,
			EventType: "token_refreshed",
			Result:    auditpkg.ResultSuccess,
			IP:        clientIP,
			UserAgent: userAgent,
		})
	}
	return id, nil
}

func (g *Guard) logEvent(ctx context.Context, e *auditdomain.AuthEvent) {
	if g.audit == nil {
		return
	}
	g.audit.LogAuth(ctx, e)
}

// errorBody is the JSON error shape returned to clients.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c Code) message() string {
	switch c {
	case CodeMissingToken:
		return "authentication required"
	case CodeCSRFFailed:
		return "request origin not allowed"
	case CodeRateLimited:
		return "too many requests"
	case CodeInternal:
		return "internal error"
	default:
		return "authentication failed"
	}
}

func marshalError(c Code) []byte {
	b, _ := json.Marshal(errorBody{Error: c.message(), Code: string(c)})
	return b
}
