package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind тип уведомления.
type Kind string

const (
	KindVerificationCode       Kind = "verification_code"
	KindResendVerificationCode Kind = "resend_verification_code"
	KindPasswordReset          Kind = "password_reset"
	KindEmailReset             Kind = "email_reset"
	KindStatusChange           Kind = "status_change"
	KindBroadcast              Kind = "broadcast"
)

// Message закрытый набор вариантов уведомлений, каждый со своей типизированной нагрузкой.
type Message interface {
	Kind() Kind
}

type VerificationCodeMessage struct {
	Code string
	TTL  time.Duration
}

type ResendVerificationCodeMessage struct {
	Code string
	TTL  time.Duration
}

type PasswordResetMessage struct {
	Link string
	TTL  time.Duration
}

type EmailResetMessage struct {
	Link     string
	NewEmail string
	TTL      time.Duration
}

// StatusChangeMessage сообщает пользователю о смене статуса учётной записи.
type StatusChangeMessage struct {
	Status string
	Reason string
}

type BroadcastMessage struct {
	Title string
	Body  string
}

func (VerificationCodeMessage) Kind() Kind       { return KindVerificationCode }
func (ResendVerificationCodeMessage) Kind() Kind { return KindResendVerificationCode }
func (PasswordResetMessage) Kind() Kind          { return KindPasswordReset }
func (EmailResetMessage) Kind() Kind             { return KindEmailReset }
func (StatusChangeMessage) Kind() Kind           { return KindStatusChange }
func (BroadcastMessage) Kind() Kind              { return KindBroadcast }

// Target адресат уведомления: конкретный пользователь или все пользователи.
type Target struct {
	UserID    uuid.UUID
	Broadcast bool
}

func ToUser(userID uuid.UUID) Target { return Target{UserID: userID} }

func ToAll() Target { return Target{Broadcast: true} }

// Rendered готовое к отправке письмо.
type Rendered struct {
	Subject string
	HTML    string
}

// Render форматирует сообщение. Для каждого варианта есть отдельная чистая функция.
func Render(m Message) (Rendered, error) {
	switch msg := m.(type) {
	case VerificationCodeMessage:
		return formatVerificationCode(msg), nil
	case ResendVerificationCodeMessage:
		return formatResendVerificationCode(msg), nil
	case PasswordResetMessage:
		return formatPasswordReset(msg), nil
	case EmailResetMessage:
		return formatEmailReset(msg), nil
	case StatusChangeMessage:
		return formatStatusChange(msg), nil
	case BroadcastMessage:
		return formatBroadcast(msg), nil
	case nil:
		return Rendered{}, fmt.Errorf("notify: пустое сообщение")
	default:
		return Rendered{}, fmt.Errorf("notify: неизвестный тип сообщения %T", m)
	}
}

func formatVerificationCode(m VerificationCodeMessage) Rendered {
	return Rendered{
		Subject: "Код подтверждения регистрации",
		HTML: fmt.Sprintf(`<h3>Подтверждение email</h3>
<p>Ваш код подтверждения: <strong>%s</strong></p>
<p>%s</p>`, html.EscapeString(m.Code), expiryLine(m.TTL)),
	}
}

func formatResendVerificationCode(m ResendVerificationCodeMessage) Rendered {
	return Rendered{
		Subject: "Новый код подтверждения",
		HTML: fmt.Sprintf(`<h3>Новый код подтверждения</h3>
<p>Ваш новый код: <strong>%s</strong></p>
<p>Предыдущие коды больше не действуют. %s</p>`, html.EscapeString(m.Code), expiryLine(m.TTL)),
	}
}

func formatPasswordReset(m PasswordResetMessage) Rendered {
	link := html.EscapeString(m.Link)
	return Rendered{
		Subject: "Сброс пароля",
		HTML: fmt.Sprintf(`<h3>Запрошен сброс пароля</h3>
<p>Чтобы задать новый пароль, перейдите по ссылке: <a href="%s">%s</a></p>
<p>%s Если вы не запрашивали сброс, просто проигнорируйте это письмо.</p>`, link, link, expiryLine(m.TTL)),
	}
}

func formatEmailReset(m EmailResetMessage) Rendered {
	link := html.EscapeString(m.Link)
	return Rendered{
		Subject: "Подтверждение смены email",
		HTML: fmt.Sprintf(`<h3>Смена адреса электронной почты</h3>
<p>Новый адрес: <strong>%s</strong></p>
<p>Чтобы подтвердить смену, перейдите по ссылке: <a href="%s">%s</a></p>
<p>%s</p>`, html.EscapeString(m.NewEmail), link, link, expiryLine(m.TTL)),
	}
}

func formatStatusChange(m StatusChangeMessage) Rendered {
	body := fmt.Sprintf("<p>Статус вашей учётной записи изменён на <strong>%s</strong>.</p>", html.EscapeString(m.Status))
	if strings.TrimSpace(m.Reason) != "" {
		body += fmt.Sprintf("\n<p>Причина: %s</p>", html.EscapeString(m.Reason))
	}
	return Rendered{Subject: "Статус учётной записи изменён", HTML: body}
}

func formatBroadcast(m BroadcastMessage) Rendered {
	return Rendered{
		Subject: m.Title,
		HTML:    "<p>" + html.EscapeString(m.Body) + "</p>",
	}
}

func expiryLine(ttl time.Duration) string {
	if ttl <= 0 {
		return ""
	}
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Срок действия: %d мин.", minutes)
}
