package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/pkg/auth"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID      = "user_id"
	ContextDeviceID    = "device_id"
	ContextUsername    = "username"
	ContextClaims      = "claims"
	ContextAccessToken = "access_token"
)

// TokenVerifier checks an access token
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware validates the bearer token and injects its claims into context
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized", Message: "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized", Message: "Invalid authorization format. Use: Bearer <token>"})
			return
		}
		tokenString := parts[1]

		claims, err := verifier.VerifyAccess(c.Request.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrStoreUnavailable):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "service_unavailable", Message: "Auth server error"})
			case errors.Is(err, model.ErrAccountDisabled):
				c.AbortWithStatusJSON(http.StatusForbidden, model.ErrorResponse{Error: "forbidden", Message: err.Error()})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized", Message: "Invalid or expired token"})
			}
			return
		}

		// Store user info in context for downstream handlers
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextDeviceID, claims.DeviceID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextClaims, claims)
		c.Set(ContextAccessToken, tokenString)

		c.Next()
	}
}
