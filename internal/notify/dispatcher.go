package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher доставляет выданные коды и токены пользователю.
type Dispatcher interface {
	SendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error
	SendResendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error
	Notify(ctx context.Context, target Target, msg Message) error
}

// Directory разрешает адреса получателей.
type Directory interface {
	EmailByID(ctx context.Context, userID uuid.UUID) (string, error)
	AllEmails(ctx context.Context) ([]string, error)
}

// Sender отправляет готовое письмо списку адресов.
type Sender interface {
	Send(ctx context.Context, to []string, msg Rendered) error
}

// EmailDispatcher рендерит сообщения и отправляет их по email.
type EmailDispatcher struct {
	directory Directory
	sender    Sender
	codeTTL   time.Duration
}

// NewEmailDispatcher создаёт диспетчер; codeTTL попадает в текст письма с кодом,
// если в контексте не передан срок конкретного кода.
func NewEmailDispatcher(directory Directory, sender Sender, codeTTL time.Duration) *EmailDispatcher {
	return &EmailDispatcher{directory: directory, sender: sender, codeTTL: codeTTL}
}

type codeTTLKey struct{}

// WithCodeTTL прикладывает к контексту срок действия отправляемого кода.
func WithCodeTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, codeTTLKey{}, ttl)
}

// CodeTTL возвращает срок, переданный через WithCodeTTL.
func CodeTTL(ctx context.Context) (time.Duration, bool) {
	ttl, ok := ctx.Value(codeTTLKey{}).(time.Duration)
	return ttl, ok && ttl > 0
}

func (d *EmailDispatcher) SendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	return d.Notify(ctx, ToUser(userID), VerificationCodeMessage{Code: code, TTL: d.ttlFor(ctx)})
}

func (d *EmailDispatcher) SendResendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	return d.Notify(ctx, ToUser(userID), ResendVerificationCodeMessage{Code: code, TTL: d.ttlFor(ctx)})
}

func (d *EmailDispatcher) ttlFor(ctx context.Context) time.Duration {
	if ttl, ok := CodeTTL(ctx); ok {
		return ttl
	}
	return d.codeTTL
}

// Notify отправляет сообщение пользователю или всем пользователям.
func (d *EmailDispatcher) Notify(ctx context.Context, target Target, msg Message) error {
	rendered, err := Render(msg)
	if err != nil {
		return err
	}

	var to []string
	if target.Broadcast {
		to, err = d.directory.AllEmails(ctx)
		if err != nil {
			return fmt.Errorf("notify: получатели рассылки: %w", err)
		}
		if len(to) == 0 {
			return nil
		}
	} else {
		email, err := d.directory.EmailByID(ctx, target.UserID)
		if err != nil {
			return fmt.Errorf("notify: адрес пользователя %s: %w", target.UserID, err)
		}
		to = []string{email}
	}

	if err := d.sender.Send(ctx, to, rendered); err != nil {
		return fmt.Errorf("notify: отправка %s: %w", msg.Kind(), err)
	}
	return nil
}

// LogSender пишет письма в лог вместо отправки; используется без SMTP.
type LogSender struct {
	log *logrus.Logger
}

func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, to []string, msg Rendered) error {
	s.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": msg.Subject,
	}).Info("notify: письмо не отправлено, SMTP не настроен")
	return nil
}
