package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-poll-service/internal/auth"
	"live-poll-service/internal/domain"
)

const (
	contextKeyRequestID = "request_id"
	contextKeyUserID    = "user_id"
	headerRequestID     = "X-Request-ID"
	headerUserID        = "X-User-ID"
)

// RequestID tags every request with an id, reusing a client-supplied one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(contextKeyRequestID, reqID)
		c.Header(headerRequestID, reqID)
		c.Next()
	}
}

// RequestLogger writes one zerolog line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Int("status", status).
			Dur("latency", time.Since(start)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(contextKeyRequestID)).
			Msg("request")
	}
}

// IdentityResolver turns a request into a stable user id. A bearer token wins; the
// X-User-ID header or userId query parameter is trusted only when allowHeader is set.
type IdentityResolver struct {
	tokens      *auth.Tokens
	allowHeader bool
}

func NewIdentityResolver(tokens *auth.Tokens, allowHeader bool) *IdentityResolver {
	return &IdentityResolver{tokens: tokens, allowHeader: allowHeader}
}

// Resolve returns 0 with no error for anonymous requests.
func (r *IdentityResolver) Resolve(req *http.Request) (int64, error) {
	if token := bearerToken(req); token != "" {
		if r.tokens == nil {
			return 0, errors.New("bearer tokens are not configured")
		}
		claims, err := r.tokens.Validate(token)
		if err != nil {
			return 0, err
		}
		return claims.UserID, nil
	}
	if !r.allowHeader {
		return 0, nil
	}

	raw := req.Header.Get(headerUserID)
	if raw == "" {
		raw = req.URL.Query().Get("userId")
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("malformed user id")
	}
	return id, nil
}

// Identity stores the resolved user id on the gin context. Bad credentials abort with 401.
func (r *IdentityResolver) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := r.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorBody{
				Code:    ErrUnauthorized,
				Message: "invalid credentials",
			}})
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userIDFrom(c) <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorBody{
				Code:    ErrUnauthorized,
				Message: domain.ErrUnauthorized.Error(),
			}})
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) int64 {
	return c.GetInt64(contextKeyUserID)
}

func bearerToken(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	// browsers cannot set headers on WebSocket upgrades
	return req.URL.Query().Get("token")
}
