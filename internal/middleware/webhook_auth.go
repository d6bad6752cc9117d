package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/auth"
	"github.com/charlesng35/meetrec/pkg/errors"
	"github.com/charlesng35/meetrec/pkg/logger"
	"github.com/charlesng35/meetrec/pkg/response"
)

const CtxWebhookClaimsKey = "webhookClaims"

// WebhookAuth requires a valid bearer token on webhook requests. A nil token
// service disables the check.
func WebhookAuth(tokens *auth.WebhookTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			logger.WithModule("http").Warn("webhook token rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err),
			)
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrWebhookTokenInvalid)
			c.Abort()
			return
		}

		c.Set(CtxWebhookClaimsKey, claims)
		c.Next()
	}
}

// WebhookClaims returns the claims stored by WebhookAuth, if any.
func WebhookClaims(c *gin.Context) (*auth.WebhookClaims, bool) {
	value, ok := c.Get(CtxWebhookClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*auth.WebhookClaims)
	return claims, ok && claims != nil
}

func bearerToken(header string) string {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
