package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKeyHeader authenticates administrative requests.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards routes with a static API key. An empty key disables the routes entirely.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "admin api disabled"})
			return
		}
		presented := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "error_description": "invalid admin key"})
			return
		}
		c.Next()
	}
}
