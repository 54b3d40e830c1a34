package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/credential-service/internal/logger"
	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/notify"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
	"github.com/ignatzorin/credential-service/internal/repository"
	"github.com/ignatzorin/credential-service/internal/validation"
)

// SecretTokenStore описывает зависимости SecretTokenService от слоя хранилища.
type SecretTokenStore interface {
	InTx(ctx context.Context, fn func(tx repository.SecretTokenTx) error) error
}

// SecretTokenSettings параметры выдачи токенов.
type SecretTokenSettings struct {
	PasswordResetTTL time.Duration
	EmailResetTTL    time.Duration
	// ResetLinkBaseURL адрес страницы, к которому добавляется ?token=.
	ResetLinkBaseURL string
}

// SecretTokenService выдаёт и проверяет одноразовые токены сброса пароля и email.
type SecretTokenService struct {
	store      SecretTokenStore
	dispatcher notify.Dispatcher
	settings   SecretTokenSettings
	now        Clock
	random     io.Reader
}

// NewSecretTokenService создаёт сервис секретных токенов.
func NewSecretTokenService(store SecretTokenStore, dispatcher notify.Dispatcher, settings SecretTokenSettings) *SecretTokenService {
	if settings.PasswordResetTTL <= 0 {
		settings.PasswordResetTTL = time.Hour
	}
	if settings.EmailResetTTL <= 0 {
		settings.EmailResetTTL = 24 * time.Hour
	}
	return &SecretTokenService{
		store:      store,
		dispatcher: dispatcher,
		settings:   settings,
		now:        systemClock,
		random:     rand.Reader,
	}
}

// SetClock подменяет источник времени.
func (s *SecretTokenService) SetClock(now Clock) {
	s.now = now
}

// Issue выдаёт токен и возвращает его внешнее представление. Секрет в хранилище не попадает.
// ttl <= 0 означает срок по умолчанию для назначения.
func (s *SecretTokenService) Issue(ctx context.Context, userID uuid.UUID, purpose models.TokenPurpose, ttl time.Duration, payload interface{}) (string, error) {
	if userID == uuid.Nil {
		return "", apperror.New(apperror.ErrCodeValidation, "user_id обязателен")
	}
	if !purpose.Valid() {
		return "", apperror.New(apperror.ErrCodeValidation, "неизвестное назначение токена")
	}
	if ttl <= 0 {
		ttl = s.ttl(purpose)
	}

	var rawPayload []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать данные токена")
		}
		rawPayload = b
	}

	var (
		external   string
		tokenID    uuid.UUID
		superseded int64
	)
	err := s.store.InTx(ctx, func(tx repository.SecretTokenTx) error {
		// Значения генерируются внутри транзакции: при повторе после конфликта уникальности они будут новыми.
		lookupID, err := newLookupID(s.random)
		if err != nil {
			return err
		}
		secret, err := randomBytes(s.random, secretBytes)
		if err != nil {
			return err
		}

		superseded = 0
		if purpose.SingleActive() {
			n, err := tx.SupersedeUnused(ctx, userID, purpose)
			if err != nil {
				return err
			}
			superseded = n
		}

		now := s.now()
		token := &models.SecretToken{
			ID:         uuid.New(),
			UserID:     userID,
			LookupID:   lookupID,
			SecretHash: hashSecret(secret),
			Purpose:    purpose,
			Payload:    rawPayload,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
		}
		if err := tx.Insert(ctx, token); err != nil {
			return err
		}

		tokenID = token.ID
		external = encodeToken(lookupID, secret)
		return nil
	})
	if err != nil {
		return "", translateStoreError(err, "не удалось выдать токен")
	}

	logger.Get().WithFields(logrus.Fields{
		"user_id":    userID,
		"purpose":    purpose,
		"token_id":   tokenID,
		"superseded": superseded,
	}).Info("secret token: токен выдан")

	return external, nil
}

// IssuePasswordReset выдаёт токен сброса пароля и отправляет ссылку пользователю.
func (s *SecretTokenService) IssuePasswordReset(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := s.Issue(ctx, userID, models.TokenPurposePasswordReset, 0, models.PasswordResetPayload{})
	if err != nil {
		return "", err
	}

	link, err := s.resetLink(token)
	if err != nil {
		return "", err
	}
	msg := notify.PasswordResetMessage{Link: link, TTL: s.settings.PasswordResetTTL}
	if err := s.dispatcher.Notify(ctx, notify.ToUser(userID), msg); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "токен выдан, но ссылка не доставлена")
	}
	return token, nil
}

// IssueEmailReset выдаёт токен смены email, запоминая старый и новый адреса.
func (s *SecretTokenService) IssueEmailReset(ctx context.Context, userID uuid.UUID, oldEmail, newEmail string) (string, error) {
	payload, err := emailResetPayload(oldEmail, newEmail)
	if err != nil {
		return "", err
	}

	token, err := s.Issue(ctx, userID, models.TokenPurposeEmailReset, 0, payload)
	if err != nil {
		return "", err
	}

	link, err := s.resetLink(token)
	if err != nil {
		return "", err
	}
	msg := notify.EmailResetMessage{Link: link, NewEmail: payload.NewEmail, TTL: s.settings.EmailResetTTL}
	if err := s.dispatcher.Notify(ctx, notify.ToUser(userID), msg); err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "токен выдан, но ссылка не доставлена")
	}
	return token, nil
}

// Validate проверяет токен и при успехе помечает его использованным в той же транзакции.
func (s *SecretTokenService) Validate(ctx context.Context, purpose models.TokenPurpose, externalToken string) (*models.SecretToken, error) {
	if !purpose.Valid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестное назначение токена")
	}
	lookupID, secret, err := decodeToken(externalToken)
	if err != nil {
		return nil, apperror.ErrTokenInvalid
	}

	var (
		outcome error
		result  *models.SecretToken
	)
	err = s.store.InTx(ctx, func(tx repository.SecretTokenTx) error {
		outcome, result = nil, nil

		token, err := tx.LockByLookupID(ctx, lookupID)
		if errors.Is(err, repository.ErrSecretTokenNotFound) {
			outcome = apperror.ErrTokenNotFound
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		switch {
		case token.Purpose != purpose:
			outcome = apperror.ErrTokenNotFound
		case token.Used:
			outcome = apperror.ErrTokenAlreadyUsed
		case !token.ExpiresAt.After(now):
			outcome = apperror.ErrTokenExpired
		case !constantTimeEqual(token.SecretHash, hashSecret(secret)):
			outcome = apperror.ErrTokenInvalid
		}
		if outcome != nil {
			return nil
		}

		if err := tx.MarkUsed(ctx, token.ID, now); err != nil {
			return err
		}
		token.Used = true
		token.UsedAt = &now
		result = token
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, "не удалось проверить токен")
	}

	entry := logger.Get().WithField("purpose", purpose)
	if outcome != nil {
		entry.WithField("reason", apperror.CodeOf(outcome)).Info("secret token: проверка не пройдена")
		return nil, outcome
	}
	entry.WithFields(logrus.Fields{
		"user_id":  result.UserID,
		"token_id": result.ID,
	}).Info("secret token: токен использован")
	return result, nil
}

// ValidatePasswordReset проверяет токен сброса пароля.
func (s *SecretTokenService) ValidatePasswordReset(ctx context.Context, externalToken string) (*models.SecretToken, error) {
	return s.Validate(ctx, models.TokenPurposePasswordReset, externalToken)
}

// ValidateEmailReset проверяет токен смены email и возвращает сохранённые адреса.
// Перед применением вызывающая сторона сверяет OldEmail с текущим адресом через StillApplies.
func (s *SecretTokenService) ValidateEmailReset(ctx context.Context, externalToken string) (*models.SecretToken, *models.EmailResetPayload, error) {
	token, err := s.Validate(ctx, models.TokenPurposeEmailReset, externalToken)
	if err != nil {
		return nil, nil, err
	}
	var payload models.EmailResetPayload
	if err := token.DecodePayload(&payload); err != nil {
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "повреждены данные токена")
	}
	return token, &payload, nil
}

func (s *SecretTokenService) ttl(purpose models.TokenPurpose) time.Duration {
	if purpose == models.TokenPurposeEmailReset {
		return s.settings.EmailResetTTL
	}
	return s.settings.PasswordResetTTL
}

func (s *SecretTokenService) resetLink(token string) (string, error) {
	if s.settings.ResetLinkBaseURL == "" {
		return "", apperror.New(apperror.ErrCodeInternal, "не задан адрес ссылки сброса")
	}
	u, err := url.Parse(s.settings.ResetLinkBaseURL)
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeInternal, "некорректный адрес ссылки сброса")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func emailResetPayload(oldEmail, newEmail string) (models.EmailResetPayload, error) {
	oldEmail = validation.NormalizeEmail(oldEmail)
	newEmail = validation.NormalizeEmail(newEmail)
	if err := validation.ValidateEmail(oldEmail); err != nil {
		return models.EmailResetPayload{}, apperror.Wrap(err, apperror.ErrCodeValidation, fmt.Sprintf("old_email: %v", err))
	}
	if err := validation.ValidateEmail(newEmail); err != nil {
		return models.EmailResetPayload{}, apperror.Wrap(err, apperror.ErrCodeValidation, fmt.Sprintf("new_email: %v", err))
	}
	if oldEmail == newEmail {
		return models.EmailResetPayload{}, apperror.New(apperror.ErrCodeValidation, "новый email совпадает с текущим")
	}
	return models.EmailResetPayload{OldEmail: oldEmail, NewEmail: newEmail}, nil
}
