package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/password"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

const codeDigits = 6

// UserPort is the slice of the user service authentication needs.
type UserPort interface {
	Create(ctx context.Context, actor string, in users.CreateInput, meta map[string]string) (users.User, error)
	FindCredentials(ctx context.Context, login string) (users.Credentials, error)
	Uncancel(ctx context.Context, actor, id string) (users.User, error)
	Update(ctx context.Context, actor, id string, patch users.Patch) (users.User, error)
}

// Rehasher is implemented by hashers whose cost parameters can be raised.
type Rehasher interface {
	NeedsRehash(digest string) (bool, error)
}

// Tokens issues and rotates token pairs.
type Tokens interface {
	Issue(ctx context.Context, subject string) (token.Pair, error)
	Refresh(ctx context.Context, raw string) (token.Pair, error)
	Revoke(ctx context.Context, subject string) error
}

// CodeStore keeps short-lived verification codes.
type CodeStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MailQueue hands messages to the background mailer.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, msg mail.Message) error
}

// Config tunes Service.
type Config struct {
	CodeTTL time.Duration
	// IncludePasswordInWelcome puts the plaintext password on the user.created
	// event so the welcome mail can quote it. Off unless explicitly enabled.
	IncludePasswordInWelcome bool
}

// Params groups the collaborators of Service.
type Params struct {
	Config Config
	Users  UserPort
	Hasher password.Hasher
	Tokens Tokens
	Codes  CodeStore
	Mail   MailQueue
	Logger *slog.Logger
}

// Service wraps authentication business rules.
type Service struct {
	cfg    Config
	users  UserPort
	hasher password.Hasher
	tokens Tokens
	codes  CodeStore
	mail   MailQueue
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(p Params) *Service {
	if p.Config.CodeTTL <= 0 {
		p.Config.CodeTTL = 5 * time.Minute
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    p.Config,
		users:  p.Users,
		hasher: p.Hasher,
		tokens: p.Tokens,
		codes:  p.Codes,
		mail:   p.Mail,
		logger: logger.With(slog.String("component", "auth")),
	}
}

// LoginInput accepts username or email plus either password or an email code.
type LoginInput struct {
	Username string `json:"username" validate:"omitempty,max=32"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"omitempty,max=128"`
	Code     string `json:"code" validate:"omitempty,len=6,numeric"`
}

// Session is the result of a successful login or refresh.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         *users.User `json:"user,omitempty"`
}

// Register creates an active account.
func (s *Service) Register(ctx context.Context, in users.CreateInput) (users.User, error) {
	var meta map[string]string
	if s.cfg.IncludePasswordInWelcome {
		meta = map[string]string{events.MetaInitialPassword: in.Password}
	}
	return s.users.Create(ctx, "", in, meta)
}

// Login authenticates and issues a fresh token pair, superseding any pair the
// user held before. A cancelled account is restored on login.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	if in.Password == "" && in.Code == "" {
		return Session{}, shared.Validation("password", "password or code is required")
	}
	login := users.Fold(in.Username)
	if in.Code != "" {
		// a code proves ownership of the mailbox only, so it must select the account
		if strings.TrimSpace(in.Email) == "" {
			return Session{}, shared.Validation("email", "code login requires email")
		}
		login = users.Fold(in.Email)
	}
	if login == "" {
		login = users.Fold(in.Email)
	}
	if login == "" {
		return Session{}, shared.Validation("username", "username or email is required")
	}

	creds, err := s.users.FindCredentials(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("login for unknown account")
			return Session{}, shared.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if in.Code != "" {
		if err := s.consumeCode(ctx, users.Fold(in.Email), in.Code); err != nil {
			return Session{}, err
		}
	} else {
		ok, err := s.hasher.Verify(creds.PasswordHash, in.Password)
		if err != nil {
			s.logger.Error("stored digest unreadable", slog.String("user", creds.User.ID), slog.Any("error", err))
			return Session{}, shared.ErrInvalidCredentials
		}
		if !ok {
			return Session{}, shared.ErrInvalidCredentials
		}
		s.upgradeDigest(ctx, creds, in.Password)
	}

	user := creds.User
	if user.Status == users.StatusCancelled {
		restored, err := s.users.Uncancel(ctx, user.ID, user.ID)
		if err != nil {
			return Session{}, err
		}
		user = restored
	}
	pair, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, User: &user}, nil
}

// upgradeDigest re-hashes a verified password stored under weaker cost
// parameters. Failures are logged; the login proceeds.
func (s *Service) upgradeDigest(ctx context.Context, creds users.Credentials, secret string) {
	rehasher, ok := s.hasher.(Rehasher)
	if !ok {
		return
	}
	stale, err := rehasher.NeedsRehash(creds.PasswordHash)
	if err != nil || !stale {
		return
	}
	if _, err := s.users.Update(ctx, creds.User.ID, creds.User.ID, users.Patch{Password: &secret}); err != nil {
		s.logger.Warn("rehash password", slog.String("user", creds.User.ID), slog.Any("error", err))
	}
}

// Refresh rotates a token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Logout revokes every token of subject.
func (s *Service) Logout(ctx context.Context, subject string) error {
	if subject == "" {
		return shared.ErrTokenMissing
	}
	return s.tokens.Revoke(ctx, subject)
}

// SendEmailCode queues a login code for email. A code still alive is resent
// instead of replaced and its lifetime restarts.
func (s *Service) SendEmailCode(ctx context.Context, email string) error {
	email = users.Fold(email)
	if email == "" {
		return shared.Validation("email", "email is required")
	}
	key := codeKey(email)
	code, err := s.codes.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read email code", slog.Any("error", err))
		}
		code, err = generateCode()
		if err != nil {
			return err
		}
	}
	if err := s.codes.Set(ctx, key, code, s.cfg.CodeTTL); err != nil {
		return err
	}
	if err := s.mail.EnqueueSendEmail(ctx, mail.VerificationCode(email, code, s.cfg.CodeTTL)); err != nil {
		return shared.Transient("enqueue email code", err)
	}
	return nil
}

func (s *Service) consumeCode(ctx context.Context, email, code string) error {
	key := codeKey(email)
	stored, err := s.codes.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read email code", slog.Any("error", err))
		}
		return shared.ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return shared.ErrInvalidCode
	}
	if err := s.codes.Delete(ctx, key); err != nil {
		s.logger.Warn("delete used email code", slog.Any("error", err))
	}
	return nil
}

func codeKey(email string) string { return "email_code:" + email }

func generateCode() (string, error) {
	upper := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("auth: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
