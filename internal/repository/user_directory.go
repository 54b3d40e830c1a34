package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrUserNotFound возвращается, когда пользователь не найден.
var ErrUserNotFound = errors.New("user not found")

// UserDirectory читает контактные адреса из таблицы users, которой владеет сервис профилей.
type UserDirectory struct {
	db *sqlx.DB
}

// NewUserDirectory создаёт справочник адресов.
func NewUserDirectory(db *sqlx.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// EmailByID возвращает email пользователя.
func (d *UserDirectory) EmailByID(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := d.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("user directory: email by id: %w", err)
	}
	return email, nil
}

// AllEmails возвращает адреса всех активных пользователей для широковещательных рассылок.
func (d *UserDirectory) AllEmails(ctx context.Context) ([]string, error) {
	var emails []string
	if err := d.db.SelectContext(ctx, &emails, `SELECT email FROM users WHERE is_active = true ORDER BY email`); err != nil {
		return nil, fmt.Errorf("user directory: all emails: %w", err)
	}
	return emails, nil
}
