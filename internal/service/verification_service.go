package service

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/credential-service/internal/logger"
	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/notify"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
	"github.com/ignatzorin/credential-service/internal/repository"
)

// VerificationStore описывает зависимости VerificationService от слоя хранилища.
type VerificationStore interface {
	InTx(ctx context.Context, fn func(tx repository.VerificationTx) error) error
}

// VerificationSettings параметры выдачи кодов.
type VerificationSettings struct {
	RegistrationTTL time.Duration
	EmailChangeTTL  time.Duration
	// MaxRetries после стольких неверных попыток код сразу истекает; 0 отключает ограничение.
	MaxRetries int
}

// VerificationService выдаёт, перевыдаёт и проверяет коды подтверждения.
type VerificationService struct {
	store      VerificationStore
	dispatcher notify.Dispatcher
	settings   VerificationSettings
	now        Clock
	random     io.Reader
}

// NewVerificationService создаёт сервис кодов подтверждения.
func NewVerificationService(store VerificationStore, dispatcher notify.Dispatcher, settings VerificationSettings) *VerificationService {
	if settings.RegistrationTTL <= 0 {
		settings.RegistrationTTL = 5 * time.Minute
	}
	if settings.EmailChangeTTL <= 0 {
		settings.EmailChangeTTL = settings.RegistrationTTL
	}
	return &VerificationService{
		store:      store,
		dispatcher: dispatcher,
		settings:   settings,
		now:        systemClock,
		random:     rand.Reader,
	}
}

// SetClock подменяет источник времени.
func (s *VerificationService) SetClock(now Clock) {
	s.now = now
}

// Issue создаёт новый активный код, не проверяя наличие предыдущих.
func (s *VerificationService) Issue(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (string, error) {
	code, err := s.issue(ctx, userID, purpose, false)
	if err != nil {
		return "", err
	}
	if err := s.dispatcher.SendVerificationCode(notify.WithCodeTTL(ctx, s.ttl(purpose)), userID, code); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "код выдан, но не доставлен")
	}
	return code, nil
}

// Resend в одной транзакции замещает все активные коды и выдаёт новый.
// После вызова прежний код не пройдёт проверку ни при каких условиях.
func (s *VerificationService) Resend(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (string, error) {
	code, err := s.issue(ctx, userID, purpose, true)
	if err != nil {
		return "", err
	}
	if err := s.dispatcher.SendResendVerificationCode(notify.WithCodeTTL(ctx, s.ttl(purpose)), userID, code); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "код выдан, но не доставлен")
	}
	return code, nil
}

func (s *VerificationService) issue(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, supersede bool) (string, error) {
	if err := checkVerificationInput(userID, purpose); err != nil {
		return "", err
	}

	var (
		issued     *models.VerificationCode
		superseded int64
	)
	err := s.store.InTx(ctx, func(tx repository.VerificationTx) error {
		now := s.now()
		superseded = 0
		if supersede {
			n, err := tx.SupersedeActive(ctx, userID, purpose, now)
			if err != nil {
				return err
			}
			superseded = n
		}

		code, err := randomNumericCode(s.random)
		if err != nil {
			return err
		}
		vc := &models.VerificationCode{
			ID:        uuid.New(),
			UserID:    userID,
			Code:      code,
			Purpose:   purpose,
			ExpiresAt: now.Add(s.ttl(purpose)),
			CreatedAt: now,
		}
		if err := tx.Insert(ctx, vc); err != nil {
			return err
		}
		issued = vc
		return nil
	})
	if err != nil {
		return "", translateStoreError(err, "не удалось выдать код подтверждения")
	}

	logger.Get().WithFields(logrus.Fields{
		"user_id":    userID,
		"purpose":    purpose,
		"code_id":    issued.ID,
		"resend":     supersede,
		"superseded": superseded,
	}).Info("verification: код выдан")

	return issued.Code, nil
}

// Validate проверяет код и гасит его при совпадении.
// Неверная попытка увеличивает retry_count, и это изменение фиксируется, хотя вызов завершается ошибкой.
func (s *VerificationService) Validate(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, submitted string) error {
	if err := checkVerificationInput(userID, purpose); err != nil {
		return err
	}
	submitted = strings.TrimSpace(submitted)

	var outcome error
	err := s.store.InTx(ctx, func(tx repository.VerificationTx) error {
		var err error
		outcome, err = s.validateInTx(ctx, tx, userID, purpose, submitted)
		return err
	})
	if err != nil {
		return translateStoreError(err, "не удалось проверить код подтверждения")
	}

	entry := logger.Get().WithFields(logrus.Fields{
		"user_id": userID,
		"purpose": purpose,
	})
	if outcome != nil {
		entry.WithField("reason", apperror.CodeOf(outcome)).Info("verification: проверка не пройдена")
		return outcome
	}
	entry.Info("verification: код подтверждён")
	return nil
}

// validateInTx возвращает бизнес-исход отдельно от ошибки хранилища,
// чтобы транзакция фиксировалась и при неудачной проверке.
func (s *VerificationService) validateInTx(ctx context.Context, tx repository.VerificationTx, userID uuid.UUID, purpose models.VerificationPurpose, submitted string) (error, error) {
	now := s.now()

	active, err := tx.LockActive(ctx, userID, purpose, now)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if constantTimeEqual(active[i].Code, submitted) {
			if err := tx.MarkConsumed(ctx, active[i].ID, now); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	// Код не активен, но мог быть выдан раньше: тогда сообщаем его реальное состояние.
	var outcome error = apperror.ErrInvalidCode
	var match *models.VerificationCode
	if submitted != "" {
		if match, err = tx.LatestByCode(ctx, userID, purpose, submitted); err != nil {
			return nil, err
		}
		if match != nil {
			outcome = terminalStateError(match, now)
		}
	}

	// Попытка засчитывается активному коду, даже если совпала со старым.
	if len(active) > 0 {
		latest := active[0]
		count, err := tx.IncrementRetry(ctx, latest.ID)
		if err != nil {
			return nil, err
		}
		if s.settings.MaxRetries > 0 && count >= s.settings.MaxRetries {
			if err := tx.ExpireNow(ctx, latest.ID, now); err != nil {
				return nil, err
			}
		}
		return outcome, nil
	}
	if match != nil {
		return outcome, nil
	}

	latest, err := tx.Latest(ctx, userID, purpose)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return apperror.ErrInvalidCode, nil
	}
	return terminalStateError(latest, now), nil
}

func (s *VerificationService) ttl(purpose models.VerificationPurpose) time.Duration {
	if purpose == models.PurposeEmailChange {
		return s.settings.EmailChangeTTL
	}
	return s.settings.RegistrationTTL
}

// terminalStateError ошибка для неактивного кода: погашенный или замещённый против просроченного.
func terminalStateError(vc *models.VerificationCode, now time.Time) error {
	switch vc.State(now) {
	case models.CodeStateConsumed:
		return apperror.ErrCodeAlreadyConsumed
	case models.CodeStateExpired:
		return apperror.ErrCodeExpired
	default:
		return apperror.ErrInvalidCode
	}
}

func checkVerificationInput(userID uuid.UUID, purpose models.VerificationPurpose) error {
	if userID == uuid.Nil {
		return apperror.New(apperror.ErrCodeValidation, "user_id обязателен")
	}
	if !purpose.Valid() {
		return apperror.New(apperror.ErrCodeValidation, "неизвестное назначение кода")
	}
	return nil
}
