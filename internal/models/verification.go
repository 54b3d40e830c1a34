package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationPurpose определяет назначение кода подтверждения.
type VerificationPurpose string

const (
	PurposeRegistration VerificationPurpose = "registration"
	PurposeEmailChange  VerificationPurpose = "email_change"
)

// ValidVerificationPurposes список поддерживаемых назначений кодов.
var ValidVerificationPurposes = map[VerificationPurpose]struct{}{
	PurposeRegistration: {},
	PurposeEmailChange:  {},
}

func (p VerificationPurpose) Valid() bool {
	_, ok := ValidVerificationPurposes[p]
	return ok
}

// VerificationCodeState состояние кода в жизненном цикле.
type VerificationCodeState string

const (
	CodeStateActive   VerificationCodeState = "active"
	CodeStateConsumed VerificationCodeState = "consumed"
	CodeStateExpired  VerificationCodeState = "expired"
)

// VerificationCode хранит одну выдачу кода подтверждения.
// Замещённый код отличается от погашенного только причиной: оба получают consumed_at.
type VerificationCode struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	UserID     uuid.UUID           `db:"user_id" json:"user_id"`
	Code       string              `db:"code" json:"-"`
	Purpose    VerificationPurpose `db:"purpose" json:"purpose"`
	ExpiresAt  time.Time           `db:"expires_at" json:"expires_at"`
	RetryCount int                 `db:"retry_count" json:"retry_count"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	ConsumedAt *time.Time          `db:"consumed_at" json:"consumed_at,omitempty"`
}

// State вычисляет состояние кода на момент now.
func (v *VerificationCode) State(now time.Time) VerificationCodeState {
	if v.ConsumedAt != nil {
		return CodeStateConsumed
	}
	if !v.ExpiresAt.After(now) {
		return CodeStateExpired
	}
	return CodeStateActive
}

func (v *VerificationCode) IsActive(now time.Time) bool {
	return v.State(now) == CodeStateActive
}
