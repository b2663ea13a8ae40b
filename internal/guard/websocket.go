package guard

import (
	"context"
	"encoding/json"

	"minutes-maker/backend/internal/ratelimit"
)

// WebSocket close codes in the application range. The transport closes the
// connection with one of these when the auth handshake fails.
const (
	CloseInternalError = 4000
	CloseAuthFailed    = 4001
	CloseRateLimited   = 4003
)

// AuthMessage is the first message a WebSocket client must send after
// connecting.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthenticateMessage parses and validates a WebSocket auth handshake
// message. On failure it returns the close code the connection should be
// terminated with.
func (g *Guard) AuthenticateMessage(ctx context.Context, raw []byte, clientIP string) (*Identity, int, *AuthError) {
	var msg AuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, CloseAuthFailed, authErr(CodeInvalidTokenFormat, err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		return nil, CloseAuthFailed, authErr(CodeMissingToken, nil)
	}

	if g.limiter != nil && clientIP != "" {
		if d := g.limiter.Check(clientIP, ratelimit.OpWebsocket); !d.Allowed {
			return nil, CloseRateLimited, authErr(CodeRateLimited, nil)
		}
		g.limiter.Record(clientIP, ratelimit.OpWebsocket)
	}

	id, aerr := g.Authenticate(ctx, msg.Token, clientIP, "websocket")
	if aerr != nil {
		return nil, closeCodeFor(aerr.Code), aerr
	}
	return id, 0, nil
}

func closeCodeFor(c Code) int {
	switch c {
	case CodeRateLimited:
		return CloseRateLimited
	case CodeInternal:
		return CloseInternalError
	default:
		return CloseAuthFailed
	}
}
