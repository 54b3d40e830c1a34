package service

import (
	"context"
	"errors"
	"time"

	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
	"github.com/ignatzorin/credential-service/internal/repository/common"
)

// Clock возвращает текущее время; в тестах подменяется.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// translateStoreError приводит ошибки хранилища к ошибкам приложения.
// Ошибки бизнес-правил проходят без изменений.
func translateStoreError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, common.ErrConflict) {
		return apperror.Wrap(err, apperror.ErrCodeConflict, apperror.ErrConflict.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "время ожидания хранилища истекло")
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, message)
}
