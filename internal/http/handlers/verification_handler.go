package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/credential-service/internal/http/response"
	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/validation"
)

// VerificationManager выдача и проверка кодов подтверждения.
type VerificationManager interface {
	Issue(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (string, error)
	Resend(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (string, error)
	Validate(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, code string) error
}

type VerificationHandler struct {
	svc VerificationManager
	// exposeCodes возвращает код в ответе; включается только вне production.
	exposeCodes bool
}

func NewVerificationHandler(s VerificationManager, exposeCodes bool) *VerificationHandler {
	return &VerificationHandler{svc: s, exposeCodes: exposeCodes}
}

type issueCodeRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
}

type validateCodeRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

// Issue POST /verification-codes
func (h *VerificationHandler) Issue(c *gin.Context) {
	h.issue(c, h.svc.Issue)
}

// Resend POST /verification-codes/resend
func (h *VerificationHandler) Resend(c *gin.Context) {
	h.issue(c, h.svc.Resend)
}

func (h *VerificationHandler) issue(c *gin.Context, issueFn func(context.Context, uuid.UUID, models.VerificationPurpose) (string, error)) {
	var req issueCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	code, err := issueFn(c.Request.Context(), userID, models.VerificationPurpose(req.Purpose))
	if err != nil {
		fail(c, err)
		return
	}

	data := gin.H{"message": "code sent"}
	// В продакшене код не возвращаем, только отправляем на email
	if h.exposeCodes {
		data["code"] = code
	}
	response.Created(c, data)
}

// Validate POST /verification-codes/validate
func (h *VerificationHandler) Validate(c *gin.Context) {
	var req validateCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	code := strings.TrimSpace(req.Code)
	if err := validation.ValidateNumericCode(code, 6); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.svc.Validate(c.Request.Context(), userID, models.VerificationPurpose(req.Purpose), code); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"verified": true})
}
