package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/notify"
	"github.com/ignatzorin/credential-service/internal/pkg/apperror"
)

func newTestVerificationService(dispatcher *mockDispatcher, maxRetries int) (*VerificationService, *fakeVerificationStore, *testClock) {
	store := &fakeVerificationStore{}
	clock := newTestClock()
	svc := NewVerificationService(store, dispatcher, VerificationSettings{
		RegistrationTTL: 5 * time.Minute,
		EmailChangeTTL:  10 * time.Minute,
		MaxRetries:      maxRetries,
	})
	svc.SetClock(clock.Now)
	return svc, store, clock
}

// withCodeTTL сопоставляет контекст, несущий срок действия кода.
func withCodeTTL(want time.Duration) interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		ttl, ok := notify.CodeTTL(ctx)
		return ok && ttl == want
	})
}

// otherCode возвращает код той же длины, гарантированно отличающийся от code.
func otherCode(code string) string {
	b := []byte(code)
	if b[len(b)-1] == '9' {
		b[len(b)-1] = '0'
	} else {
		b[len(b)-1]++
	}
	return string(b)
}

func TestVerificationService_Issue_Success(t *testing.T) {
	dispatcher := acceptingDispatcher()
	svc, store, clock := newTestVerificationService(dispatcher, 0)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)

	require.NoError(t, err)
	assert.Len(t, code, 6)
	dispatcher.AssertCalled(t, "SendVerificationCode", withCodeTTL(5*time.Minute), userID, code)

	codes := store.snapshot()
	require.Len(t, codes, 1)
	assert.Equal(t, code, codes[0].Code)
	assert.Equal(t, clock.Now().Add(5*time.Minute), codes[0].ExpiresAt)
	assert.Equal(t, 0, codes[0].RetryCount)
}

func TestVerificationService_Issue_EmailChangeUsesOwnTTL(t *testing.T) {
	dispatcher := acceptingDispatcher()
	svc, store, clock := newTestVerificationService(dispatcher, 0)
	userID := uuid.New()

	code, err := svc.Issue(context.Background(), userID, models.PurposeEmailChange)

	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Minute), store.snapshot()[0].ExpiresAt)
	dispatcher.AssertCalled(t, "SendVerificationCode", withCodeTTL(10*time.Minute), userID, code)
}

func TestVerificationService_Issue_InvalidInput(t *testing.T) {
	svc, store, _ := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()

	_, err := svc.Issue(ctx, uuid.Nil, models.PurposeRegistration)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Issue(ctx, uuid.New(), models.VerificationPurpose("login"))
	assert.True(t, apperror.IsValidation(err))

	assert.Empty(t, store.snapshot())
}

func TestVerificationService_Issue_DispatchFailure(t *testing.T) {
	dispatcher := new(mockDispatcher)
	dispatcher.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	svc, store, _ := newTestVerificationService(dispatcher, 0)

	_, err := svc.Issue(context.Background(), uuid.New(), models.PurposeRegistration)

	assert.Equal(t, apperror.ErrCodeInternal, apperror.CodeOf(err))
	assert.Len(t, store.snapshot(), 1, "код сохраняется, даже если письмо не ушло")
}

func TestVerificationService_Issue_StoreError(t *testing.T) {
	dispatcher := acceptingDispatcher()
	svc, store, _ := newTestVerificationService(dispatcher, 0)
	store.failErr = errors.New("connection refused")

	_, err := svc.Issue(context.Background(), uuid.New(), models.PurposeRegistration)

	assert.Equal(t, apperror.ErrCodeDatabaseError, apperror.CodeOf(err))
	dispatcher.AssertNotCalled(t, "SendVerificationCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerificationService_Validate_ConsumesCode(t *testing.T) {
	svc, store, _ := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)

	require.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, code))
	assert.NotNil(t, store.snapshot()[0].ConsumedAt)

	err = svc.Validate(ctx, userID, models.PurposeRegistration, code)
	assert.ErrorIs(t, err, apperror.ErrCodeAlreadyConsumed)
}

func TestVerificationService_Validate_TrimsInput(t *testing.T) {
	svc, _, _ := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)

	assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, " "+code+"\n"))
}

func TestVerificationService_Validate_BeforeAndAfterExpiry(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("за секунду до истечения", func(t *testing.T) {
		svc, _, clock := newTestVerificationService(acceptingDispatcher(), 0)
		code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
		require.NoError(t, err)

		clock.Advance(4*time.Minute + 59*time.Second)
		assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, code))
	})

	t.Run("через секунду после истечения", func(t *testing.T) {
		svc, _, clock := newTestVerificationService(acceptingDispatcher(), 0)
		code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
		require.NoError(t, err)

		clock.Advance(5*time.Minute + time.Second)
		assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, code), apperror.ErrCodeExpired)
	})

	t.Run("ровно в момент истечения", func(t *testing.T) {
		svc, _, clock := newTestVerificationService(acceptingDispatcher(), 0)
		code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, code), apperror.ErrCodeExpired)
	})
}

func TestVerificationService_Validate_WrongCodeIncrementsRetry(t *testing.T) {
	svc, store, _ := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)

	err = svc.Validate(ctx, userID, models.PurposeRegistration, otherCode(code))
	assert.ErrorIs(t, err, apperror.ErrInvalidCode)
	assert.Equal(t, 1, store.snapshot()[0].RetryCount, "неудачная попытка должна быть зафиксирована")

	assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, code))
}

func TestVerificationService_Validate_MaxRetriesExpiresCode(t *testing.T) {
	svc, store, _ := newTestVerificationService(acceptingDispatcher(), 3)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	wrong := otherCode(code)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, wrong), apperror.ErrInvalidCode)
	}
	assert.Equal(t, 3, store.snapshot()[0].RetryCount)

	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, code), apperror.ErrCodeExpired)
	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, wrong), apperror.ErrCodeExpired)
}

func TestVerificationService_Validate_NothingIssued(t *testing.T) {
	svc, _, _ := newTestVerificationService(acceptingDispatcher(), 0)

	err := svc.Validate(context.Background(), uuid.New(), models.PurposeRegistration, "123456")

	assert.ErrorIs(t, err, apperror.ErrInvalidCode)
}

func TestVerificationService_Validate_PurposesAreIsolated(t *testing.T) {
	svc, _, _ := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()

	code, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeEmailChange, code), apperror.ErrInvalidCode)
	assert.ErrorIs(t, svc.Validate(ctx, uuid.New(), models.PurposeRegistration, code), apperror.ErrInvalidCode)
	assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, code))
}

func TestVerificationService_Resend_InvalidatesPreviousCode(t *testing.T) {
	dispatcher := acceptingDispatcher()
	svc, store, clock := newTestVerificationService(dispatcher, 0)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	clock.Advance(time.Second)

	second, err := svc.Resend(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	dispatcher.AssertCalled(t, "SendResendVerificationCode", withCodeTTL(5*time.Minute), userID, second)
	assert.Equal(t, 1, store.activeCount(userID, models.PurposeRegistration, clock.Now()))

	if first == second {
		t.Skip("случайные коды совпали")
	}
	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, first), apperror.ErrCodeAlreadyConsumed)
	assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, second))
}

func TestVerificationService_Validate_StaleCodeCountsAsRetry(t *testing.T) {
	svc, store, clock := newTestVerificationService(acceptingDispatcher(), 2)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := svc.Resend(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	if first == second {
		t.Skip("случайные коды совпали")
	}

	retriesOf := func(code string) int {
		for _, c := range store.snapshot() {
			if c.Code == code {
				return c.RetryCount
			}
		}
		t.Fatalf("код %s не найден", code)
		return 0
	}

	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, first), apperror.ErrCodeAlreadyConsumed)
	assert.Equal(t, 1, retriesOf(second), "старый код тоже расходует попытку")

	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, first), apperror.ErrCodeAlreadyConsumed)
	assert.Equal(t, 2, retriesOf(second))
	assert.ErrorIs(t, svc.Validate(ctx, userID, models.PurposeRegistration, second), apperror.ErrCodeExpired)
}

func TestVerificationService_Issue_KeepsEarlierCodesActive(t *testing.T) {
	svc, store, clock := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Issue(ctx, userID, models.PurposeRegistration)
	require.NoError(t, err)

	assert.Equal(t, 2, store.activeCount(userID, models.PurposeRegistration, clock.Now()))
	assert.NoError(t, svc.Validate(ctx, userID, models.PurposeRegistration, first))
}

func TestVerificationService_Resend_ConcurrentLeavesSingleActive(t *testing.T) {
	svc, store, clock := newTestVerificationService(acceptingDispatcher(), 0)
	ctx := context.Background()
	userID := uuid.New()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Resend(ctx, userID, models.PurposeRegistration); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("resend: %v", err)
	}
	assert.Len(t, store.snapshot(), n)
	assert.Equal(t, 1, store.activeCount(userID, models.PurposeRegistration, clock.Now()))
}

func TestVerificationService_Validate_StoreError(t *testing.T) {
	svc, store, _ := newTestVerificationService(acceptingDispatcher(), 0)
	store.failErr = context.DeadlineExceeded

	err := svc.Validate(context.Background(), uuid.New(), models.PurposeRegistration, "123456")

	assert.Equal(t, apperror.ErrCodeInternal, apperror.CodeOf(err))
}
