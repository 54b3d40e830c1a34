package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/credential-service/internal/http/response"
	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
)

// SecretTokenManager выдача и проверка токенов сброса.
type SecretTokenManager interface {
	IssuePasswordReset(ctx context.Context, userID uuid.UUID) (string, error)
	IssueEmailReset(ctx context.Context, userID uuid.UUID, oldEmail, newEmail string) (string, error)
	Validate(ctx context.Context, purpose models.TokenPurpose, token string) (*models.SecretToken, error)
}

type SecretTokenHandler struct {
	svc SecretTokenManager
	// exposeTokens возвращает токен в ответе; включается только вне production.
	exposeTokens bool
}

func NewSecretTokenHandler(s SecretTokenManager, exposeTokens bool) *SecretTokenHandler {
	return &SecretTokenHandler{svc: s, exposeTokens: exposeTokens}
}

type passwordResetRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type emailResetRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	OldEmail string `json:"old_email" binding:"required"`
	NewEmail string `json:"new_email" binding:"required"`
}

type validateTokenRequest struct {
	Purpose string `json:"purpose" binding:"required"`
	Token   string `json:"token" binding:"required"`
}

type validatedTokenResponse struct {
	UserID  uuid.UUID           `json:"user_id"`
	Purpose models.TokenPurpose `json:"purpose"`
	UsedAt  *time.Time          `json:"used_at,omitempty"`
	Payload interface{}         `json:"payload,omitempty"`
}

// PasswordReset POST /secret-tokens/password-reset
func (h *SecretTokenHandler) PasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	token, err := h.svc.IssuePasswordReset(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	h.issued(c, token)
}

// EmailReset POST /secret-tokens/email-reset
func (h *SecretTokenHandler) EmailReset(c *gin.Context) {
	var req emailResetRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	token, err := h.svc.IssueEmailReset(c.Request.Context(), userID, req.OldEmail, req.NewEmail)
	if err != nil {
		fail(c, err)
		return
	}
	h.issued(c, token)
}

func (h *SecretTokenHandler) issued(c *gin.Context, token string) {
	data := gin.H{"message": "link sent"}
	if h.exposeTokens {
		data["token"] = token
	}
	response.Created(c, data)
}

// Validate POST /secret-tokens/validate
// Токен гасится при успешной проверке, повторный вызов вернёт TOKEN_ALREADY_USED.
func (h *SecretTokenHandler) Validate(c *gin.Context) {
	var req validateTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	purpose := models.TokenPurpose(req.Purpose)
	token, err := h.svc.Validate(c.Request.Context(), purpose, req.Token)
	if err != nil {
		fail(c, err)
		return
	}

	resp := validatedTokenResponse{
		UserID:  token.UserID,
		Purpose: token.Purpose,
		UsedAt:  token.UsedAt,
	}
	if purpose == models.TokenPurposeEmailReset {
		var payload models.EmailResetPayload
		if err := token.DecodePayload(&payload); err != nil {
			fail(c, apperror.Wrap(err, apperror.ErrCodeInternal, "повреждены данные токена"))
			return
		}
		resp.Payload = payload
	}
	response.Success(c, resp)
}
