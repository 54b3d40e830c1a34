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

// VerificationTx операции над кодами подтверждения внутри одной транзакции.
type VerificationTx interface {
	Insert(ctx context.Context, code *models.VerificationCode) error
	SupersedeActive(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) (int64, error)
	LockActive(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) ([]models.VerificationCode, error)
	LatestByCode(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, code string) (*models.VerificationCode, error)
	Latest(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (*models.VerificationCode, error)
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	MarkConsumed(ctx context.Context, id uuid.UUID, now time.Time) error
	ExpireNow(ctx context.Context, id uuid.UUID, now time.Time) error
}

// VerificationRepository хранит выдачи кодов подтверждения.
type VerificationRepository struct {
	db       *sqlx.DB
	attempts int
}

// NewVerificationRepository создаёт репозиторий; attempts ограничивает повторы транзакции при конфликте.
func NewVerificationRepository(db *sqlx.DB, attempts int) *VerificationRepository {
	return &VerificationRepository{db: db, attempts: attempts}
}

// InTx выполняет fn в сериализуемой транзакции с повторами.
func (r *VerificationRepository) InTx(ctx context.Context, fn func(tx VerificationTx) error) error {
	return common.WithSerializableTx(ctx, r.db, r.attempts, func(tx *sqlx.Tx) error {
		return fn(&verificationTx{tx: tx})
	})
}

type verificationTx struct {
	tx *sqlx.Tx
}

const verificationColumns = `id, user_id, code, purpose, expires_at, retry_count, created_at, consumed_at`

func (t *verificationTx) Insert(ctx context.Context, code *models.VerificationCode) error {
	query := `
		INSERT INTO verification_code (id, user_id, code, purpose, expires_at, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.ExecContext(ctx, query,
		code.ID, code.UserID, code.Code, code.Purpose, code.ExpiresAt, code.RetryCount, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("verification repository: insert: %w", err)
	}
	return nil
}

// SupersedeActive помечает все активные коды пользователя как замещённые.
func (t *verificationTx) SupersedeActive(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE verification_code SET consumed_at = $3
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
	`, userID, purpose, now)
	if err != nil {
		return 0, fmt.Errorf("verification repository: supersede: %w", err)
	}
	return res.RowsAffected()
}

// LockActive возвращает активные коды, начиная с последнего, и блокирует их до конца транзакции.
func (t *verificationTx) LockActive(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) ([]models.VerificationCode, error) {
	var codes []models.VerificationCode
	err := t.tx.SelectContext(ctx, &codes, `
		SELECT `+verificationColumns+` FROM verification_code
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		FOR UPDATE
	`, userID, purpose, now)
	if err != nil {
		return nil, fmt.Errorf("verification repository: lock active: %w", err)
	}
	return codes, nil
}

func (t *verificationTx) LatestByCode(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose, code string) (*models.VerificationCode, error) {
	return t.getOne(ctx, `
		SELECT `+verificationColumns+` FROM verification_code
		WHERE user_id = $1 AND purpose = $2 AND code = $3
		ORDER BY created_at DESC LIMIT 1
	`, userID, purpose, code)
}

func (t *verificationTx) Latest(ctx context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (*models.VerificationCode, error) {
	return t.getOne(ctx, `
		SELECT `+verificationColumns+` FROM verification_code
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC LIMIT 1
	`, userID, purpose)
}

// getOne возвращает nil без ошибки, если строк нет.
func (t *verificationTx) getOne(ctx context.Context, query string, args ...interface{}) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	err := t.tx.GetContext(ctx, &vc, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification repository: get: %w", err)
	}
	return &vc, nil
}

// IncrementRetry +1 попытка, возвращает новое значение retry_count.
func (t *verificationTx) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := t.tx.GetContext(ctx, &count, `
		UPDATE verification_code SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count
	`, id)
	if err != nil {
		return 0, fmt.Errorf("verification repository: increment retry: %w", err)
	}
	return count, nil
}

func (t *verificationTx) MarkConsumed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE verification_code SET consumed_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("verification repository: mark consumed: %w", err)
	}
	return nil
}

// ExpireNow моментально делает код просроченным (при превышении попыток).
func (t *verificationTx) ExpireNow(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE verification_code SET expires_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("verification repository: expire: %w", err)
	}
	return nil
}
