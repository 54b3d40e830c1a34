package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/credential-service/internal/logger"
	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
	"github.com/ignatzorin/credential-service/internal/repository"
)

// CounterRepository описывает зависимости CodeAllocator от слоя хранилища.
type CounterRepository interface {
	Increment(ctx context.Context, sp models.SubPillar) (int, error)
	LastIssued(ctx context.Context, sp models.SubPillar) (int, error)
}

// CodeAllocator выдаёт уникальные студенческие коды из диапазонов подпилларов.
// Какой подпиллар выбрать для категории студента, решает вызывающая сторона.
type CodeAllocator struct {
	repo CounterRepository
}

// NewCodeAllocator создаёт аллокатор кодов.
func NewCodeAllocator(repo CounterRepository) *CodeAllocator {
	return &CodeAllocator{repo: repo}
}

// AllocateNext выдаёт следующий код диапазона в виде строки фиксированной ширины.
func (a *CodeAllocator) AllocateNext(ctx context.Context, subPillarBase int) (string, error) {
	sp, err := models.ParseSubPillar(subPillarBase)
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeValidation, "недопустимая база подпиллара")
	}

	next, err := a.repo.Increment(ctx, sp)
	if errors.Is(err, repository.ErrPillarExhausted) {
		logger.Get().WithFields(logrus.Fields{
			"sub_pillar_base": int(sp),
		}).Error("code allocator: диапазон подпиллара исчерпан, требуется вмешательство оператора")
		return "", apperror.ErrPillarExhausted
	}
	if err != nil {
		return "", translateStoreError(err, "не удалось выдать код")
	}

	if !sp.Contains(next) || next < sp.First() {
		return "", apperror.New(apperror.ErrCodeInternal,
			fmt.Sprintf("счётчик подпиллара %d вернул номер вне диапазона: %d", int(sp), next))
	}

	return models.FormatStudentCode(next), nil
}

// Usage возвращает заполненность диапазона подпиллара.
func (a *CodeAllocator) Usage(ctx context.Context, subPillarBase int) (*models.SubPillarUsage, error) {
	sp, err := models.ParseSubPillar(subPillarBase)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "недопустимая база подпиллара")
	}

	last, err := a.repo.LastIssued(ctx, sp)
	if err != nil {
		return nil, translateStoreError(err, "не удалось прочитать счётчик")
	}

	usage := models.UsageOf(sp, last)
	return &usage, nil
}
