package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailLocalRegex  = regexp.MustCompile(`^[a-z0-9._+-]+$`)
	emailDomainRegex = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
)

// NormalizeEmail приводит адрес к виду, в котором он хранится.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	email = NormalizeEmail(email)

	localPart, domainPart, ok := strings.Cut(email, "@")
	if !ok {
		return fmt.Errorf("email должен содержать символ @")
	}
	if strings.Contains(domainPart, "@") {
		return fmt.Errorf("некорректный формат email")
	}

	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}
	if len(domainPart) == 0 || len(domainPart) > 255 {
		return fmt.Errorf("доменная часть email должна быть от 1 до 255 символов")
	}

	if !emailLocalRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}
	if !emailDomainRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidateNumericCode проверяет, что код состоит ровно из length цифр.
func ValidateNumericCode(code string, length int) error {
	if len(code) != length {
		return fmt.Errorf("код должен состоять из %d цифр", length)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("код должен содержать только цифры")
		}
	}
	return nil
}
