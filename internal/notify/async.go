package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/credential-service/internal/goroutine"
)

// ErrorLogger принимает ошибки фоновой доставки.
type ErrorLogger interface {
	Errorf(format string, args ...interface{})
}

// AsyncDispatcher доставляет уведомления в фоне, не задерживая ответ.
// Ошибки доставки не возвращаются вызывающему, а пишутся в лог.
type AsyncDispatcher struct {
	next     Dispatcher
	recovery *goroutine.RecoveryHandler
	log      ErrorLogger
	timeout  time.Duration
}

// NewAsyncDispatcher оборачивает next; timeout ограничивает одну фоновую доставку.
func NewAsyncDispatcher(next Dispatcher, log ErrorLogger, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncDispatcher{
		next:     next,
		recovery: goroutine.NewRecoveryHandler(log),
		log:      log,
		timeout:  timeout,
	}
}

func (d *AsyncDispatcher) SendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	d.run(ctx, "verification_code", func(ctx context.Context) error {
		return d.next.SendVerificationCode(ctx, userID, code)
	})
	return nil
}

func (d *AsyncDispatcher) SendResendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	d.run(ctx, "resend_verification_code", func(ctx context.Context) error {
		return d.next.SendResendVerificationCode(ctx, userID, code)
	})
	return nil
}

func (d *AsyncDispatcher) Notify(ctx context.Context, target Target, msg Message) error {
	if _, err := Render(msg); err != nil {
		return err
	}
	d.run(ctx, string(msg.Kind()), func(ctx context.Context) error {
		return d.next.Notify(ctx, target, msg)
	})
	return nil
}

// run отвязывает доставку от отмены запроса, сохраняя значения его контекста.
func (d *AsyncDispatcher) run(parent context.Context, kind string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	d.recovery.SafeGoWithContext(ctx, func(ctx context.Context) {
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Errorf("notify: фоновая доставка %s не удалась: %v", kind, err)
		}
	})
}
