// Package token issues and verifies access/refresh token pairs backed by a
// single-session whitelist. Issuing a pair for a subject supersedes any pair
// issued before it.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Whitelist stores the single live token per subject and type.
type Whitelist interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config configures signing and lifetimes.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Pair is the result of a successful issue or refresh.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims carried by both token types.
type Claims struct {
	Type Type `json:"typ"`
	jwt.RegisteredClaims
}

// Service mints, verifies and rotates token pairs.
type Service struct {
	cfg       Config
	whitelist Whitelist
	logger    *slog.Logger
	now       func() time.Time
}

// NewService validates cfg and builds the service.
func NewService(cfg Config, whitelist Whitelist, logger *slog.Logger) (*Service, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("token: secret must be at least 16 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	if whitelist == nil {
		return nil, errors.New("token: whitelist required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, whitelist: whitelist, logger: logger, now: time.Now}, nil
}

// Issue mints a new pair for subject and makes it the only verifiable pair.
func (s *Service) Issue(ctx context.Context, subject string) (Pair, error) {
	if subject == "" {
		return Pair{}, shared.Validation("subject", "subject is required")
	}
	access, err := s.sign(subject, TypeAccess, s.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.sign(subject, TypeRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	if err := s.whitelist.Set(ctx, whitelistKey(TypeAccess, subject), access, s.cfg.AccessTTL); err != nil {
		return Pair{}, fmt.Errorf("token: whitelist access: %w", err)
	}
	if err := s.whitelist.Set(ctx, whitelistKey(TypeRefresh, subject), refresh, s.cfg.RefreshTTL); err != nil {
		return Pair{}, fmt.Errorf("token: whitelist refresh: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess returns the subject of a live access token. Failures wrap
// shared.ErrTokenExpired, shared.ErrTokenInvalid or shared.ErrTokenSuperseded.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (string, error) {
	return s.verify(ctx, raw, TypeAccess)
}

// Refresh verifies a refresh token and rotates the pair.
func (s *Service) Refresh(ctx context.Context, raw string) (Pair, error) {
	subject, err := s.verify(ctx, raw, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return s.Issue(ctx, subject)
}

// Revoke drops the whitelist entries of subject so no outstanding token verifies.
func (s *Service) Revoke(ctx context.Context, subject string) error {
	return s.whitelist.Delete(ctx, whitelistKey(TypeAccess, subject), whitelistKey(TypeRefresh, subject))
}

func (s *Service) verify(ctx context.Context, raw string, want Type) (string, error) {
	if raw == "" {
		return "", shared.ErrTokenMissing
	}
	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}
	if claims.Type != want || claims.Subject == "" {
		return "", shared.ErrTokenInvalid
	}

	current, err := s.whitelist.Get(ctx, whitelistKey(want, claims.Subject))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("token whitelist lookup failed", slog.String("subject", claims.Subject), slog.Any("error", err))
		}
		return "", shared.ErrTokenExpired
	}
	if current != raw {
		return "", shared.ErrTokenSuperseded
	}
	return claims.Subject, nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, shared.ErrTokenExpired
	default:
		return nil, shared.ErrTokenInvalid
	}
}

func (s *Service) sign(subject string, typ Type, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

func whitelistKey(typ Type, subject string) string {
	return string(typ) + "_token:" + subject
}
