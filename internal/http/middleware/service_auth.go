package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/credential-service/internal/http/response"
)

// ServiceSecretHeader заголовок, в котором внутренние сервисы передают общий секрет.
const ServiceSecretHeader = "X-Service-Secret"

// ServiceAuthMiddleware пропускает только запросы с верным общим секретом.
func ServiceAuthMiddleware(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		got := c.GetHeader(ServiceSecretHeader)
		if got == "" {
			response.Unauthorized(c, "требуется авторизация")
			return
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			response.Unauthorized(c, "неверный секрет сервиса")
			return
		}
		c.Next()
	}
}
