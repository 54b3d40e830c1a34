package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	lookupIDBytes    = 16
	secretBytes      = 32
	tokenSeparator   = "."
	verificationSize = 6
)

var (
	tokenEncoding      = base64.RawURLEncoding.Strict()
	errMalformedToken  = errors.New("malformed token")
	verificationModulo = big.NewInt(1_000_000)
)

// randomBytes читает n случайных байт из криптографического источника.
func randomBytes(random io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(random, b); err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}
	return b, nil
}

// randomNumericCode генерирует равномерно распределённый код из verificationSize цифр.
func randomNumericCode(random io.Reader) (string, error) {
	n, err := rand.Int(random, verificationModulo)
	if err != nil {
		return "", fmt.Errorf("random: %w", err)
	}
	return fmt.Sprintf("%0*d", verificationSize, n.Int64()), nil
}

// hashSecret возвращает hex(BLAKE2b-256(secret)).
func hashSecret(secret []byte) string {
	sum := blake2b.Sum256(secret)
	return hex.EncodeToString(sum[:])
}

// constantTimeEqual сравнивает строки за время, не зависящее от позиции расхождения.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// encodeToken собирает внешний токен из lookup id и секрета.
func encodeToken(lookupID string, secret []byte) string {
	return lookupID + tokenSeparator + tokenEncoding.EncodeToString(secret)
}

// decodeToken разбирает внешний токен; lookup id возвращается в том виде, в каком хранится.
func decodeToken(token string) (string, []byte, error) {
	lookupID, encodedSecret, ok := strings.Cut(strings.TrimSpace(token), tokenSeparator)
	if !ok || lookupID == "" || encodedSecret == "" {
		return "", nil, errMalformedToken
	}

	rawLookup, err := tokenEncoding.DecodeString(lookupID)
	if err != nil || len(rawLookup) != lookupIDBytes {
		return "", nil, errMalformedToken
	}

	secret, err := tokenEncoding.DecodeString(encodedSecret)
	if err != nil || len(secret) != secretBytes {
		return "", nil, errMalformedToken
	}

	return lookupID, secret, nil
}

// newLookupID генерирует несекретный идентификатор для ссылки.
func newLookupID(random io.Reader) (string, error) {
	b, err := randomBytes(random, lookupIDBytes)
	if err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(b), nil
}
