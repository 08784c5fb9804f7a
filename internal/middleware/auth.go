// internal/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/utils"
)

// APIKeyRequired checks the token header against the configured admin key.
// Every mutating and listing endpoint sits behind it; only /health is open.
func APIKeyRequired(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("token")
		if token == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "token header required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			c.Abort()
			return
		}

		c.Next()
	}
}
