package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// Коды бизнес-правил выдачи учётных данных.
	ErrCodePillarExhausted     ErrorCode = "PILLAR_EXHAUSTED"
	ErrCodeInvalidCode         ErrorCode = "INVALID_CODE"
	ErrCodeCodeExpired         ErrorCode = "CODE_EXPIRED"
	ErrCodeCodeAlreadyConsumed ErrorCode = "CODE_ALREADY_CONSUMED"
	ErrCodeTokenNotFound       ErrorCode = "TOKEN_NOT_FOUND"
	ErrCodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrCodeTokenAlreadyUsed    ErrorCode = "TOKEN_ALREADY_USED"
	ErrCodeTokenInvalid        ErrorCode = "TOKEN_INVALID"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал и для обёрнутых копий.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeTokenNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidCode, ErrCodeTokenInvalid:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeCodeAlreadyConsumed, ErrCodeTokenAlreadyUsed:
		return http.StatusConflict
	case ErrCodeCodeExpired, ErrCodeTokenExpired:
		return http.StatusGone
	case ErrCodePillarExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки приложения или пустую строку.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

var (
	ErrPillarExhausted     = New(ErrCodePillarExhausted, "диапазон кодов исчерпан")
	ErrConflict            = New(ErrCodeConflict, "конфликт параллельных запросов, повторите попытку")
	ErrInvalidCode         = New(ErrCodeInvalidCode, "неверный код подтверждения")
	ErrCodeExpired         = New(ErrCodeCodeExpired, "срок действия кода истёк")
	ErrCodeAlreadyConsumed = New(ErrCodeCodeAlreadyConsumed, "код уже использован")
	ErrTokenNotFound       = New(ErrCodeTokenNotFound, "токен не найден")
	ErrTokenExpired        = New(ErrCodeTokenExpired, "срок действия токена истёк")
	ErrTokenAlreadyUsed    = New(ErrCodeTokenAlreadyUsed, "токен уже использован")
	ErrTokenInvalid        = New(ErrCodeTokenInvalid, "токен невалиден")
	ErrUnauthorized        = New(ErrCodeUnauthorized, "требуется авторизация")
)
