package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPSender отправляет письма через SMTP.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
	}
}

// Send отправляет каждому получателю отдельное письмо в рамках одного SMTP соединения.
func (s *SMTPSender) Send(ctx context.Context, to []string, msg Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := make([]*gomail.Message, 0, len(to))
	for _, addr := range to {
		m := gomail.NewMessage()
		m.SetHeader("From", s.from)
		m.SetHeader("To", addr)
		m.SetHeader("Subject", msg.Subject)
		m.SetBody("text/html", msg.HTML)
		messages = append(messages, m)
	}

	if err := s.dialer.DialAndSend(messages...); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
