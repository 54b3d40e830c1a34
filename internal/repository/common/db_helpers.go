package common

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultTxAttempts количество попыток сериализуемой транзакции по умолчанию.
const DefaultTxAttempts = 3

// SQLSTATE коды, после которых транзакцию можно безопасно повторить.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// TxBeginner абстрагирует *sqlx.DB для запуска транзакций.
type TxBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// WithTransaction выполняет функцию внутри транзакции с правильной обработкой ошибок
func WithTransaction(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// WithSerializableTx выполняет fn в SERIALIZABLE транзакции и повторяет её целиком
// при конфликте сериализации, дедлоке или гонке уникального индекса.
// fn должна быть идемпотентной относительно своих внешних переменных: каждая попытка их перезаписывает.
// Если попытки исчерпаны, возвращается ошибка, оборачивающая ErrConflict.
func WithSerializableTx(ctx context.Context, db TxBeginner, attempts int, fn func(*sqlx.Tx) error) error {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := WithTransaction(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, attempts, lastErr)
}

// IsRetryable сообщает, вызвана ли ошибка конкурентным доступом к данным.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
		return true
	}
	return false
}
