package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/password"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type stubUsers struct {
	mu        sync.Mutex
	hasher    password.Hasher
	rows      map[string]users.Credentials
	lastMeta  map[string]string
	uncancels int
	rehashes  int
}

func (s *stubUsers) Create(_ context.Context, _ string, in users.CreateInput, meta map[string]string) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return users.User{}, err
	}
	u := users.User{ID: "u-" + in.Username, Username: users.Fold(in.Username), Email: users.Fold(in.Email), Status: users.StatusActive}
	s.rows[u.ID] = users.Credentials{User: u, PasswordHash: digest}
	s.lastMeta = meta
	return u, nil
}

func (s *stubUsers) FindCredentials(_ context.Context, login string) (users.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.User.Username == login || c.User.Email == login {
			return c, nil
		}
	}
	return users.Credentials{}, shared.NotFound("user", login)
}

func (s *stubUsers) Uncancel(_ context.Context, _ string, id string) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rows[id]
	c.User.Status = users.StatusActive
	s.rows[id] = c
	s.uncancels++
	return c.User, nil
}

func (s *stubUsers) Update(_ context.Context, _ string, id string, patch users.Patch) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return users.User{}, shared.NotFound("user", id)
	}
	if patch.Password != nil {
		digest, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			return users.User{}, err
		}
		c.PasswordHash = digest
		s.rehashes++
	}
	s.rows[id] = c
	return c.User, nil
}

func (s *stubUsers) digest(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].PasswordHash
}

func (s *stubUsers) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rows[id]
	c.User.Status = users.StatusCancelled
	s.rows[id] = c
}

type stubMail struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *stubMail) EnqueueSendEmail(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	svc    *auth.Service
	users  *stubUsers
	tokens *token.Service
	mail   *stubMail
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T, cfg auth.Config) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client, time.Second)

	hasher, err := password.NewArgon2(password.Config{MemoryKB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	require.NoError(t, err)
	tokens, err := token.NewService(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "odyssey-iam-test",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, store, nil)
	require.NoError(t, err)

	stub := &stubUsers{hasher: hasher, rows: map[string]users.Credentials{}}
	outbox := &stubMail{}
	svc := auth.NewService(auth.Params{
		Config: cfg,
		Users:  stub,
		Hasher: hasher,
		Tokens: tokens,
		Codes:  store,
		Mail:   outbox,
	})
	return fixture{svc: svc, users: stub, tokens: tokens, mail: outbox, mr: mr}
}

func (f fixture) register(t *testing.T) users.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), users.CreateInput{Username: "alice", Password: "correct horse", Email: "alice@example.com"})
	require.NoError(t, err)
	return u
}

func TestRegisterWelcomePasswordIsOptIn(t *testing.T) {
	f := newFixture(t, auth.Config{})
	f.register(t)
	require.Nil(t, f.users.lastMeta)

	f = newFixture(t, auth.Config{IncludePasswordInWelcome: true})
	f.register(t)
	require.Equal(t, "correct horse", f.users.lastMeta[events.MetaInitialPassword])
}

func TestLoginWithPasswordSupersedesPreviousSession(t *testing.T) {
	f := newFixture(t, auth.Config{})
	ctx := context.Background()
	u := f.register(t)

	first, err := f.svc.Login(ctx, auth.LoginInput{Username: "Alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, u.ID, first.User.ID)

	second, err := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = f.tokens.VerifyAccess(ctx, first.AccessToken)
	require.ErrorIs(t, err, shared.ErrTokenSuperseded)
	subject, err := f.tokens.VerifyAccess(ctx, second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, subject)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t, auth.Config{})
	ctx := context.Background()
	f.register(t)

	_, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "wrong horse"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, auth.LoginInput{Username: "nobody", Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, auth.LoginInput{Password: "correct horse"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Login(ctx, auth.LoginInput{Username: "alice"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Login(ctx, auth.LoginInput{Username: "alice", Code: "123456"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "email", shared.FieldOf(err))
}

func TestLoginRestoresCancelledAccount(t *testing.T) {
	f := newFixture(t, auth.Config{})
	u := f.register(t)
	f.users.cancel(u.ID)

	session, err := f.svc.Login(context.Background(), auth.LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, users.StatusActive, session.User.Status)
	require.Equal(t, 1, f.users.uncancels)
}

func TestLoginUpgradesWeakDigest(t *testing.T) {
	f := newFixture(t, auth.Config{})
	ctx := context.Background()
	u := f.register(t)
	weak := f.users.digest(u.ID)

	_, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Zero(t, f.users.rehashes)

	stronger, err := password.NewArgon2(password.Config{MemoryKB: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	require.NoError(t, err)
	f.users.mu.Lock()
	f.users.hasher = stronger
	f.users.mu.Unlock()
	client := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := auth.NewService(auth.Params{Users: f.users, Hasher: stronger, Tokens: f.tokens, Codes: cache.NewStore(client, time.Second), Mail: f.mail})

	_, err = svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, 1, f.users.rehashes)
	upgraded := f.users.digest(u.ID)
	require.NotEqual(t, weak, upgraded)
	stale, err := stronger.NeedsRehash(upgraded)
	require.NoError(t, err)
	require.False(t, stale)

	_, err = svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)
	require.Equal(t, 1, f.users.rehashes)
}

func TestEmailCodeLogin(t *testing.T) {
	f := newFixture(t, auth.Config{CodeTTL: time.Minute})
	ctx := context.Background()
	f.register(t)

	require.NoError(t, f.svc.SendEmailCode(ctx, "Alice@Example.com"))
	code, err := f.mr.Get("email_code:alice@example.com")
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.NoError(t, f.svc.SendEmailCode(ctx, "alice@example.com"))
	again, err := f.mr.Get("email_code:alice@example.com")
	require.NoError(t, err)
	require.Equal(t, code, again)
	require.Len(t, f.mail.sent, 2)
	require.Contains(t, f.mail.sent[1].HTML, code)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Code: wrong})
	require.ErrorIs(t, err, shared.ErrInvalidCode)

	session, err := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Code: code})
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.False(t, f.mr.Exists("email_code:alice@example.com"))

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Code: code})
	require.ErrorIs(t, err, shared.ErrInvalidCode)

	require.NoError(t, f.svc.SendEmailCode(ctx, "alice@example.com"))
	f.mr.FastForward(2 * time.Minute)
	require.False(t, f.mr.Exists("email_code:alice@example.com"))
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t, auth.Config{})
	ctx := context.Background()
	u := f.register(t)

	session, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, shared.ErrTokenSuperseded)

	require.NoError(t, f.svc.Logout(ctx, u.ID))
	_, err = f.tokens.VerifyAccess(ctx, rotated.AccessToken)
	require.ErrorIs(t, err, shared.ErrTokenExpired)
	require.ErrorIs(t, f.svc.Logout(ctx, ""), shared.ErrUnauthorized)
}

func TestHandlerAndGuard(t *testing.T) {
	f := newFixture(t, auth.Config{})
	h := auth.NewHandler(nil, f.svc)
	r, err := app.NewRouter(app.RouterParams{
		Config:    &app.Config{RateLimitPerMinute: 1000},
		Auth:      auth.NewGuard(f.tokens, nil),
		Providers: []httpx.RouteProvider{h},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"bob","password":"correct horse","email":"bob@example.com"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotContains(t, rec.Body.String(), "correct horse")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"bob","password":"nope nope"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	session, err := f.svc.Login(context.Background(), auth.LoginInput{Username: "bob", Password: "correct horse"})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "expired")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/email/code", strings.NewReader(`{"email":"bad"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
