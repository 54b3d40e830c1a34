package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/repository/common"
)

// ErrSecretTokenNotFound возвращается, когда токен с указанным lookup id отсутствует.
var ErrSecretTokenNotFound = errors.New("secret token not found")

// SecretTokenTx операции над секретными токенами внутри одной транзакции.
type SecretTokenTx interface {
	Insert(ctx context.Context, token *models.SecretToken) error
	SupersedeUnused(ctx context.Context, userID uuid.UUID, purpose models.TokenPurpose) (int64, error)
	LockByLookupID(ctx context.Context, lookupID string) (*models.SecretToken, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error
}

// SecretTokenRepository хранит токены сброса пароля и email.
type SecretTokenRepository struct {
	db       *sqlx.DB
	attempts int
}

// NewSecretTokenRepository создаёт репозиторий; attempts ограничивает повторы транзакции при конфликте.
func NewSecretTokenRepository(db *sqlx.DB, attempts int) *SecretTokenRepository {
	return &SecretTokenRepository{db: db, attempts: attempts}
}

// InTx выполняет fn в сериализуемой транзакции с повторами.
func (r *SecretTokenRepository) InTx(ctx context.Context, fn func(tx SecretTokenTx) error) error {
	return common.WithSerializableTx(ctx, r.db, r.attempts, func(tx *sqlx.Tx) error {
		return fn(&secretTokenTx{tx: tx})
	})
}

type secretTokenTx struct {
	tx *sqlx.Tx
}

func (t *secretTokenTx) Insert(ctx context.Context, token *models.SecretToken) error {
	payload := "{}"
	if len(token.Payload) > 0 {
		payload = string(token.Payload)
	}
	query := `
		INSERT INTO secret_token (id, user_id, lookup_id, secret_hash, purpose, payload, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, false, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		token.ID, token.UserID, token.LookupID, token.SecretHash, token.Purpose, payload, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("secret token repository: insert: %w", err)
	}
	return nil
}

// SupersedeUnused гасит все неиспользованные токены пользователя с тем же назначением.
// used_at остаётся пустым: так замещение отличается от настоящего использования.
func (t *secretTokenTx) SupersedeUnused(ctx context.Context, userID uuid.UUID, purpose models.TokenPurpose) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE secret_token SET used = true
		WHERE user_id = $1 AND purpose = $2 AND used = false
	`, userID, purpose)
	if err != nil {
		return 0, fmt.Errorf("secret token repository: supersede: %w", err)
	}
	return res.RowsAffected()
}

// LockByLookupID выбирает токен и блокирует строку до конца транзакции.
func (t *secretTokenTx) LockByLookupID(ctx context.Context, lookupID string) (*models.SecretToken, error) {
	var token models.SecretToken
	err := t.tx.GetContext(ctx, &token, `
		SELECT id, user_id, lookup_id, secret_hash, purpose, payload, expires_at, used, used_at, created_at
		FROM secret_token
		WHERE lookup_id = $1
		FOR UPDATE
	`, lookupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secret token repository: lock: %w", err)
	}
	return &token, nil
}

func (t *secretTokenTx) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE secret_token SET used = true, used_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("secret token repository: mark used: %w", err)
	}
	return nil
}
