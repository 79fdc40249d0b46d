package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authcore/internal/model"
)

// --- in-memory credential store ---
// Mirrors the PostgreSQL constraints: unique email, one unused code per user, unique token.

type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	codes  []*model.VerificationCode
	tokens map[string]*model.AuthToken

	// failWith, when set, is returned by every call.
	failWith error
	// failTouch makes TouchLastLogin fail.
	failTouch error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*model.User),
		tokens: make(map[string]*model.AuthToken),
	}
}

var errUniqueViolation = &pq.Error{Code: "23505"}

type memUserRepo struct{ s *memStore }
type memCodeRepo struct{ s *memStore }
type memTokenRepo struct{ s *memStore }

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyCode(v *model.VerificationCode) *model.VerificationCode {
	c := *v
	return &c
}

func copyToken(t *model.AuthToken) *model.AuthToken {
	c := *t
	return &c
}

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	if u, ok := r.s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (r memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, u := range r.s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r memUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return errUniqueViolation
		}
	}
	r.s.users[user.ID] = copyUser(user)
	return nil
}

func (r memUserRepo) MarkVerifiedLogin(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	if u, ok := r.s.users[id]; ok {
		u.IsVerified = true
		u.LastLoginAt = &at
		u.UpdatedAt = at
	}
	return nil
}

func (r memUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	if r.s.failTouch != nil {
		return r.s.failTouch
	}
	if u, ok := r.s.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (r memUserRepo) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	u, ok := r.s.users[id]
	if !ok {
		return errors.New("user not found")
	}
	u.PasswordHash = &hash
	u.UpdatedAt = at
	return nil
}

func (r memCodeRepo) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return 0, r.s.failWith
	}
	n := 0
	for _, c := range r.s.codes {
		if c.UserID == userID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r memCodeRepo) WithdrawUnused(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	for _, c := range r.s.codes {
		if c.UserID == userID && !c.IsUsed && c.DeletedAt == nil {
			withdrawn := at
			c.DeletedAt = &withdrawn
		}
	}
	return nil
}

func (r memCodeRepo) Create(_ context.Context, code *model.VerificationCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	for _, c := range r.s.codes {
		if c.UserID == code.UserID && !c.IsUsed && c.DeletedAt == nil {
			return errUniqueViolation
		}
	}
	r.s.codes = append(r.s.codes, copyCode(code))
	return nil
}

func (r memCodeRepo) FindUnusedByUserID(_ context.Context, userID string) (*model.VerificationCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, c := range r.s.codes {
		if c.UserID == userID && !c.IsUsed && c.DeletedAt == nil {
			return copyCode(c), nil
		}
	}
	return nil, nil
}

func (r memCodeRepo) IncrementAttempts(_ context.Context, id string) (*model.VerificationCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, c := range r.s.codes {
		if c.ID == id && !c.IsUsed && c.DeletedAt == nil {
			c.Attempts++
			return copyCode(c), nil
		}
	}
	return nil, nil
}

func (r memCodeRepo) MarkUsed(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return false, r.s.failWith
	}
	for _, c := range r.s.codes {
		if c.ID == id && !c.IsUsed && c.DeletedAt == nil {
			used := at
			c.IsUsed = true
			c.UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

func (r memTokenRepo) Create(_ context.Context, token *model.AuthToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	if _, ok := r.s.tokens[token.Token]; ok {
		return errUniqueViolation
	}
	r.s.tokens[token.Token] = copyToken(token)
	return nil
}

func (r memTokenRepo) FindUnrevokedByToken(_ context.Context, token string) (*model.AuthToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	if t, ok := r.s.tokens[token]; ok && !t.IsRevoked {
		return copyToken(t), nil
	}
	return nil, nil
}

func (r memTokenRepo) Revoke(_ context.Context, token string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return false, r.s.failWith
	}
	t, ok := r.s.tokens[token]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.UpdatedAt = at
	return true, nil
}

func (r memTokenRepo) RevokeAllByUserID(_ context.Context, userID, except string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return 0, r.s.failWith
	}
	var n int64
	for value, t := range r.s.tokens {
		if t.UserID != userID || t.IsRevoked || !t.ExpiresAt.After(at) {
			continue
		}
		if except != "" && value == except {
			continue
		}
		t.IsRevoked = true
		t.UpdatedAt = at
		n++
	}
	return n, nil
}

// liveCodes returns the user's unused, non-withdrawn codes.
func (s *memStore) liveCodes(userID string) []*model.VerificationCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VerificationCode
	for _, c := range s.codes {
		if c.UserID == userID && !c.IsUsed && c.DeletedAt == nil {
			out = append(out, copyCode(c))
		}
	}
	return out
}

func (s *memStore) userByEmail(email string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u)
		}
	}
	return nil
}

func (s *memStore) token(value string) *model.AuthToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[value]; ok {
		return copyToken(t)
	}
	return nil
}

func (s *memStore) putUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = copyUser(u)
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// --- clock, notifier, recorder ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentCode struct {
	email string
	code  string
	ttl   time.Duration
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (n *captureNotifier) SendCode(_ context.Context, email, code string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentCode{email: email, code: code, ttl: ttl})
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no code was sent")
	}
	return n.sent[len(n.sent)-1]
}

type countingRecorder struct {
	mu            sync.Mutex
	codesIssued   int
	verifications map[string]int
	logins        map[string]int
	tokensIssued  int
	tokensRevoked int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{verifications: map[string]int{}, logins: map[string]int{}}
}

func (r *countingRecorder) RecordCodeIssued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codesIssued++
}

func (r *countingRecorder) RecordCodeVerification(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications[result]++
}

func (r *countingRecorder) RecordLogin(method, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins[method+"/"+result]++
}

func (r *countingRecorder) RecordTokenIssued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokensIssued++
}

func (r *countingRecorder) RecordTokensRevoked(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokensRevoked += n
}

// --- wiring ---

type testEnv struct {
	store    *memStore
	clock    *fakeClock
	notifier *captureNotifier
	rec      *countingRecorder
	codes    *CodeService
	tokens   *TokenService
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	clock := newFakeClock()
	notifier := &captureNotifier{}
	rec := newCountingRecorder()
	logger := zap.NewNop()

	users := memUserRepo{store}
	codes := NewCodeService(users, memCodeRepo{store}, RandomCodeGenerator{}, notifier, logger, DefaultCodeConfig())
	codes.now = clock.Now
	tokens := NewTokenService(memTokenRepo{store}, users, logger, DefaultTokenTTL)
	tokens.now = clock.Now
	svc := NewService(users, codes, tokens, BcryptHasher{Cost: bcrypt.MinCost}, nil, rec, logger)

	return &testEnv{
		store:    store,
		clock:    clock,
		notifier: notifier,
		rec:      rec,
		codes:    codes,
		tokens:   tokens,
		svc:      svc,
	}
}

// loginWithFreshCode runs request-code and login-with-code and returns the token.
func (e *testEnv) loginWithFreshCode(t *testing.T, email string) *LoginResult {
	t.Helper()
	ctx := context.Background()
	if err := e.svc.RequestCode(ctx, email, "test-device"); err != nil {
		t.Fatalf("RequestCode(%s): %v", email, err)
	}
	result, err := e.svc.LoginWithCode(ctx, email, e.notifier.last(t).code, "test-device")
	if err != nil {
		t.Fatalf("LoginWithCode(%s): %v", email, err)
	}
	return result
}

// wrongCode returns a six digit code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func assertKind(t *testing.T, err error, want model.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", want)
	}
	if got := model.KindOf(err); got != want {
		t.Fatalf("kind = %q, want %q (err: %v)", got, want, err)
	}
}
