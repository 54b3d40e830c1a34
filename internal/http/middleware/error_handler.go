package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/credential-service/internal/http/response"
	"github.com/ignatzorin/credential-service/internal/logger"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
)

// ErrorHandler логирует ошибки запроса и отвечает за обработчики, которые не успели ответить.
// Причина внутренних ошибок остаётся только в логе.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		entry := logger.Get().WithFields(logrus.Fields{
			"error":  err.Error(),
			"code":   apperror.CodeOf(err),
			"path":   c.FullPath(),
			"method": c.Request.Method,
		})
		if c.Writer.Written() && c.Writer.Status() < http.StatusInternalServerError {
			entry.Warn("request: ошибка запроса")
		} else {
			entry.Error("request: ошибка запроса")
		}

		// Проверяем, не был ли уже отправлен ответ
		if !c.Writer.Written() {
			response.Error(c, err)
		}
	}
}

// RequestLogger пишет одну строку лога на запрос.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Get().WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		}).Info("request")
	}
}
