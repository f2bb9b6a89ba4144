package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"receiptmanager/utils"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID = "userIdStr"
	ContextEmail  = "email"
	ContextName   = "name"
	ContextRole   = "role"
)

func AuthMiddleware(jwtSecret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Authorization token required", nil)
			c.Abort()
			return
		}

		claims, err := utils.VerifyJWTTokenWithSecret(token, jwtSecret, issuer)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextName, claims.Name)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// extractBearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients that cannot set
// headers.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return strings.TrimSpace(c.Query("access_token"))
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// RequireRole lets the request through when the caller has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			utils.ErrorResponse(c, http.StatusUnauthorized, "User role not found", nil)
			c.Abort()
			return
		}

		userRole, _ := role.(string)
		for _, allowed := range roles {
			if userRole == allowed {
				c.Next()
				return
			}
		}

		utils.ErrorResponse(c, http.StatusForbidden, "Insufficient privileges", nil)
		c.Abort()
	}
}
