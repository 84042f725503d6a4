package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/services"
	"github.com/qms-platform/signoff/internal/utils"
	"github.com/qms-platform/signoff/internal/workflow"
)

const callerKey = "caller"

type AuthMiddleware struct {
	tokens *services.TokenService
	logger *zap.Logger
}

func NewAuthMiddleware(tokens *services.TokenService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger.With(zap.String("middleware", "auth")),
	}
}

// RequireAuth resolves the bearer token into a CallerIdentity and stores it
// on the gin context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		caller, err := am.tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// Authorize aborts with 403 unless check accepts the caller.
func (am *AuthMiddleware) Authorize(check func(workflow.CallerIdentity) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := CallerFrom(c)
		if err := check(caller); err != nil {
			status := http.StatusForbidden
			if !errors.Is(err, workflow.ErrAuthorization) {
				status = http.StatusInternalServerError
			}
			am.logger.Warn("Request denied",
				zap.String("path", c.FullPath()),
				zap.String("user_id", caller.ID),
				zap.String("role", caller.Role))
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func CallerFrom(c *gin.Context) (workflow.CallerIdentity, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return workflow.CallerIdentity{}, false
	}
	caller, ok := v.(workflow.CallerIdentity)
	return caller, ok
}
