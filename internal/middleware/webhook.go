package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/moedor-live/backend/pkg/response"
)

// WebhookToken checks the shared secret sent by the payment and
// transcription relays. An empty secret disables the check.
func WebhookToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			response.Unauthorized(c, "invalid webhook token")
			c.Abort()
			return
		}
		c.Next()
	}
}
