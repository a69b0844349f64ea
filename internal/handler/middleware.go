package handler

import (
	"crypto/subtle"
	"strings"
	"time"

	apperrors "coupon-registration/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"
	roleKey         = "role"
	userIDKey       = "userId"
	roleAdmin       = "admin"
)

// RequestLogger tags each request with an id and logs method, path, status and duration
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", id),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// AdminOnly admits requests carrying "Authorization: Bearer <token>".
// An empty token locks the admin routes.
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(bearer) == "" {
			respondError(c, zap.NewNop(), apperrors.ErrUnauthorized)
			return
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(bearer)), []byte(token)) != 1 {
			respondError(c, zap.NewNop(), apperrors.ErrForbidden)
			return
		}

		c.Set(roleKey, roleAdmin)
		c.Set(userIDKey, roleAdmin)
		c.Next()
	}
}
