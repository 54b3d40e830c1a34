package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/credential-service/internal/models"
)

// ErrPillarExhausted возвращается, когда в диапазоне подпиллара не осталось свободных номеров.
var ErrPillarExhausted = errors.New("sub-pillar exhausted")

// CounterRepository отвечает за счётчики подпилларов.
type CounterRepository struct {
	db *sqlx.DB
}

// NewCounterRepository создаёт экземпляр репозитория.
func NewCounterRepository(db *sqlx.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Increment атомарно выдаёт следующий номер диапазона.
// Отсутствующая строка создаётся со значением базы и сразу увеличивается тем же запросом,
// поэтому первый выданный номер равен base+1. Строка блокируется на время апсерта,
// так что параллельные вызовы на одну базу сериализуются, а на разные не пересекаются.
func (r *CounterRepository) Increment(ctx context.Context, sp models.SubPillar) (int, error) {
	query := `
		INSERT INTO sub_pillar_counter (sub_pillar_base, last_issued_number)
		VALUES ($1, $1 + 1)
		ON CONFLICT (sub_pillar_base) DO UPDATE
			SET last_issued_number = sub_pillar_counter.last_issued_number + 1
			WHERE sub_pillar_counter.last_issued_number + 1 < sub_pillar_counter.sub_pillar_base + $2
		RETURNING last_issued_number
	`
	var next int
	err := r.db.GetContext(ctx, &next, query, int(sp), models.SubPillarWidth)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrPillarExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("counter repository: increment %d: %w", int(sp), err)
	}
	return next, nil
}

// LastIssued возвращает последний выданный номер или саму базу, если выдач ещё не было.
func (r *CounterRepository) LastIssued(ctx context.Context, sp models.SubPillar) (int, error) {
	var counter models.SubPillarCounter
	err := r.db.GetContext(ctx, &counter, `
		SELECT sub_pillar_base, last_issued_number FROM sub_pillar_counter WHERE sub_pillar_base = $1
	`, int(sp))
	if errors.Is(err, sql.ErrNoRows) {
		return int(sp), nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter repository: last issued %d: %w", int(sp), err)
	}
	return counter.LastIssuedNumber, nil
}
