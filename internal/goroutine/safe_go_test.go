package goroutine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type chanLogger chan string

func (l chanLogger) Errorf(format string, args ...interface{}) {
	l <- fmt.Sprintf(format, args...)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	log := make(chanLogger, 1)
	NewRecoveryHandler(log).SafeGo(func() {
		panic("boom")
	})

	select {
	case line := <-log:
		assert.Contains(t, line, "Panic in goroutine: boom")
	case <-time.After(2 * time.Second):
		t.Fatal("panic не перехвачен")
	}
}

func TestSafeGoWithContext_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	got := make(chan interface{}, 1)

	NewRecoveryHandler(make(chanLogger, 1)).SafeGoWithContext(ctx, func(ctx context.Context) {
		got <- ctx.Value(key{})
	})

	select {
	case v := <-got:
		assert.Equal(t, "v", v)
	case <-time.After(2 * time.Second):
		t.Fatal("функция не вызвана")
	}
}
