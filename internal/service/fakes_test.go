package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/credential-service/internal/models"
	"github.com/ignatzorin/credential-service/internal/notify"
	"github.com/ignatzorin/credential-service/internal/repository"
)

// testClock управляемое время для сценариев с истечением срока.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCounterRepo повторяет семантику апсерта: номер вне диапазона не записывается.
type fakeCounterRepo struct {
	mu      sync.Mutex
	last    map[models.SubPillar]int
	failErr error
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{last: make(map[models.SubPillar]int)}
}

func (r *fakeCounterRepo) Increment(_ context.Context, sp models.SubPillar) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	last, ok := r.last[sp]
	if !ok {
		last = int(sp)
	}
	if last+1 >= int(sp)+models.SubPillarWidth {
		return 0, repository.ErrPillarExhausted
	}
	r.last[sp] = last + 1
	return last + 1, nil
}

func (r *fakeCounterRepo) LastIssued(_ context.Context, sp models.SubPillar) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	last, ok := r.last[sp]
	if !ok {
		return int(sp), nil
	}
	return last, nil
}

func (r *fakeCounterRepo) set(sp models.SubPillar, last int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[sp] = last
}

// fakeVerificationStore сериализует транзакции мьютексом и откатывает их при ошибке.
type fakeVerificationStore struct {
	mu      sync.Mutex
	codes   []models.VerificationCode
	failErr error
}

func (s *fakeVerificationStore) InTx(_ context.Context, fn func(tx repository.VerificationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	tx := &fakeVerificationTx{codes: cloneCodes(s.codes)}
	if err := fn(tx); err != nil {
		return err
	}
	s.codes = tx.codes
	return nil
}

func (s *fakeVerificationStore) snapshot() []models.VerificationCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCodes(s.codes)
}

func (s *fakeVerificationStore) activeCount(userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.UserID == userID && c.Purpose == purpose && c.IsActive(now) {
			n++
		}
	}
	return n
}

func cloneCodes(in []models.VerificationCode) []models.VerificationCode {
	out := make([]models.VerificationCode, len(in))
	for i, c := range in {
		if c.ConsumedAt != nil {
			at := *c.ConsumedAt
			c.ConsumedAt = &at
		}
		out[i] = c
	}
	return out
}

type fakeVerificationTx struct {
	codes []models.VerificationCode
}

func (t *fakeVerificationTx) Insert(_ context.Context, code *models.VerificationCode) error {
	t.codes = append(t.codes, *code)
	return nil
}

func (t *fakeVerificationTx) SupersedeActive(_ context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) (int64, error) {
	var n int64
	for i := range t.codes {
		c := &t.codes[i]
		if c.UserID == userID && c.Purpose == purpose && c.IsActive(now) {
			at := now
			c.ConsumedAt = &at
			n++
		}
	}
	return n, nil
}

// newestFirst индексы подходящих записей от последней выданной к первой.
func (t *fakeVerificationTx) newestFirst(match func(c *models.VerificationCode) bool) []int {
	var idx []int
	for i := len(t.codes) - 1; i >= 0; i-- {
		if match(&t.codes[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return t.codes[idx[a]].CreatedAt.After(t.codes[idx[b]].CreatedAt)
	})
	return idx
}

func (t *fakeVerificationTx) LockActive(_ context.Context, userID uuid.UUID, purpose models.VerificationPurpose, now time.Time) ([]models.VerificationCode, error) {
	var out []models.VerificationCode
	for _, i := range t.newestFirst(func(c *models.VerificationCode) bool {
		return c.UserID == userID && c.Purpose == purpose && c.IsActive(now)
	}) {
		out = append(out, t.codes[i])
	}
	return out, nil
}

func (t *fakeVerificationTx) LatestByCode(_ context.Context, userID uuid.UUID, purpose models.VerificationPurpose, code string) (*models.VerificationCode, error) {
	idx := t.newestFirst(func(c *models.VerificationCode) bool {
		return c.UserID == userID && c.Purpose == purpose && c.Code == code
	})
	if len(idx) == 0 {
		return nil, nil
	}
	c := t.codes[idx[0]]
	return &c, nil
}

func (t *fakeVerificationTx) Latest(_ context.Context, userID uuid.UUID, purpose models.VerificationPurpose) (*models.VerificationCode, error) {
	idx := t.newestFirst(func(c *models.VerificationCode) bool {
		return c.UserID == userID && c.Purpose == purpose
	})
	if len(idx) == 0 {
		return nil, nil
	}
	c := t.codes[idx[0]]
	return &c, nil
}

func (t *fakeVerificationTx) find(id uuid.UUID) *models.VerificationCode {
	for i := range t.codes {
		if t.codes[i].ID == id {
			return &t.codes[i]
		}
	}
	return nil
}

func (t *fakeVerificationTx) IncrementRetry(_ context.Context, id uuid.UUID) (int, error) {
	c := t.find(id)
	c.RetryCount++
	return c.RetryCount, nil
}

func (t *fakeVerificationTx) MarkConsumed(_ context.Context, id uuid.UUID, now time.Time) error {
	at := now
	t.find(id).ConsumedAt = &at
	return nil
}

func (t *fakeVerificationTx) ExpireNow(_ context.Context, id uuid.UUID, now time.Time) error {
	t.find(id).ExpiresAt = now
	return nil
}

// fakeSecretTokenStore хранит токены в памяти и проверяет частичный уникальный индекс сброса пароля.
type fakeSecretTokenStore struct {
	mu      sync.Mutex
	tokens  []models.SecretToken
	failErr error
}

func (s *fakeSecretTokenStore) InTx(_ context.Context, fn func(tx repository.SecretTokenTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	tx := &fakeSecretTokenTx{tokens: cloneTokens(s.tokens)}
	if err := fn(tx); err != nil {
		return err
	}
	s.tokens = tx.tokens
	return nil
}

func (s *fakeSecretTokenStore) snapshot() []models.SecretToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTokens(s.tokens)
}

func (s *fakeSecretTokenStore) unusedCount(userID uuid.UUID, purpose models.TokenPurpose) int {
	n := 0
	for _, tok := range s.snapshot() {
		if tok.UserID == userID && tok.Purpose == purpose && !tok.Used {
			n++
		}
	}
	return n
}

func cloneTokens(in []models.SecretToken) []models.SecretToken {
	out := make([]models.SecretToken, len(in))
	for i, tok := range in {
		if tok.UsedAt != nil {
			at := *tok.UsedAt
			tok.UsedAt = &at
		}
		tok.Payload = append([]byte(nil), tok.Payload...)
		out[i] = tok
	}
	return out
}

type fakeSecretTokenTx struct {
	tokens []models.SecretToken
}

func (t *fakeSecretTokenTx) Insert(_ context.Context, token *models.SecretToken) error {
	for _, existing := range t.tokens {
		if existing.LookupID == token.LookupID {
			return errDuplicateLookup
		}
		if token.Purpose == models.TokenPurposePasswordReset && existing.Purpose == token.Purpose &&
			existing.UserID == token.UserID && !existing.Used {
			return errDuplicateUnused
		}
	}
	t.tokens = append(t.tokens, *token)
	return nil
}

func (t *fakeSecretTokenTx) SupersedeUnused(_ context.Context, userID uuid.UUID, purpose models.TokenPurpose) (int64, error) {
	var n int64
	for i := range t.tokens {
		tok := &t.tokens[i]
		if tok.UserID == userID && tok.Purpose == purpose && !tok.Used {
			tok.Used = true
			n++
		}
	}
	return n, nil
}

func (t *fakeSecretTokenTx) LockByLookupID(_ context.Context, lookupID string) (*models.SecretToken, error) {
	for _, tok := range t.tokens {
		if tok.LookupID == lookupID {
			found := tok
			return &found, nil
		}
	}
	return nil, repository.ErrSecretTokenNotFound
}

func (t *fakeSecretTokenTx) MarkUsed(_ context.Context, id uuid.UUID, now time.Time) error {
	for i := range t.tokens {
		if t.tokens[i].ID == id {
			at := now
			t.tokens[i].Used = true
			t.tokens[i].UsedAt = &at
		}
	}
	return nil
}

type fakeStoreError string

func (e fakeStoreError) Error() string { return string(e) }

const (
	errDuplicateLookup = fakeStoreError("duplicate lookup_id")
	errDuplicateUnused = fakeStoreError("duplicate unused password reset token")
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	args := m.Called(ctx, userID, code)
	return args.Error(0)
}

func (m *mockDispatcher) SendResendVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	args := m.Called(ctx, userID, code)
	return args.Error(0)
}

func (m *mockDispatcher) Notify(ctx context.Context, target notify.Target, msg notify.Message) error {
	args := m.Called(ctx, target, msg)
	return args.Error(0)
}

// acceptingDispatcher принимает любые уведомления.
func acceptingDispatcher() *mockDispatcher {
	d := new(mockDispatcher)
	d.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.On("SendResendVerificationCode", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return d
}
