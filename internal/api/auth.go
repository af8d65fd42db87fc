package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerToken returns the credential from an "Authorization: Bearer" header,
// or "" when none was sent. The token is only forwarded to git and never
// logged.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
