package session

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderName carries the client's session identifier on requests and responses.
const HeaderName = "X-Session-ID"

// QueryParam is accepted where headers cannot be set, such as browser WebSockets.
const QueryParam = "session_id"

const maxIDLength = 64

type contextKey string

const sessionIDKey contextKey = "sessionID"

// GetSessionID retrieves the session identifier from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Middleware identifies the client session that owns the visible result slot.
// A missing or malformed identifier is replaced by a fresh one, which is
// echoed back so the client can reuse it.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderName))
		if id == "" {
			id = strings.TrimSpace(c.Query(QueryParam))
		}
		if !valid(id) {
			id = uuid.NewString()
		}

		c.Request = c.Request.WithContext(WithSessionID(c.Request.Context(), id))
		c.Set(string(sessionIDKey), id)
		c.Header(HeaderName, id)

		c.Next()
	}
}

func valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
