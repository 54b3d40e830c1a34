package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPurpose определяет назначение одноразового секретного токена.
type TokenPurpose string

const (
	TokenPurposePasswordReset TokenPurpose = "password_reset"
	TokenPurposeEmailReset    TokenPurpose = "email_reset"
)

// singleActiveTokenPurposes назначения, для которых у пользователя может быть только один неиспользованный токен.
var singleActiveTokenPurposes = map[TokenPurpose]bool{
	TokenPurposePasswordReset: true,
	TokenPurposeEmailReset:    true,
}

func (p TokenPurpose) Valid() bool {
	_, ok := singleActiveTokenPurposes[p]
	return ok
}

// SingleActive сообщает, нужно ли замещать предыдущий токен при выдаче нового.
func (p TokenPurpose) SingleActive() bool {
	return singleActiveTokenPurposes[p]
}

// SecretToken хранит хэш секрета; сам секрет никогда не сохраняется.
type SecretToken struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	UserID     uuid.UUID    `db:"user_id" json:"user_id"`
	LookupID   string       `db:"lookup_id" json:"-"`
	SecretHash string       `db:"secret_hash" json:"-"`
	Purpose    TokenPurpose `db:"purpose" json:"purpose"`
	Payload    []byte       `db:"payload" json:"-"`
	ExpiresAt  time.Time    `db:"expires_at" json:"expires_at"`
	Used       bool         `db:"used" json:"used"`
	UsedAt     *time.Time   `db:"used_at" json:"used_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// DecodePayload разбирает полезную нагрузку токена в out.
func (t *SecretToken) DecodePayload(out interface{}) error {
	if len(t.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload, out)
}

// PasswordResetPayload полезная нагрузка токена сброса пароля.
type PasswordResetPayload struct{}

// EmailResetPayload фиксирует адреса на момент выдачи токена смены email.
type EmailResetPayload struct {
	OldEmail string `json:"old_email"`
	NewEmail string `json:"new_email"`
}

// StillApplies проверяет, что email пользователя не менялся с момента выдачи токена.
// Вызывающая сторона обязана проверить это перед применением смены адреса.
func (p EmailResetPayload) StillApplies(currentEmail string) bool {
	return strings.EqualFold(strings.TrimSpace(p.OldEmail), strings.TrimSpace(currentEmail))
}
