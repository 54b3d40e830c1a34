package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/credential-service/internal/http/response"
)

// fail отдаёт ошибку клиенту и оставляет её в c.Errors для логирования в ErrorHandler.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Error(c, err)
}

// bindJSON разбирает тело запроса; при ошибке ответ уже отправлен.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, fmt.Sprintf("ошибка валидации запроса: %v", err))
		return false
	}
	return true
}

// parseUserID разбирает идентификатор пользователя из тела запроса.
func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("user_id должен быть валидным UUID")
	}
	return id, nil
}
