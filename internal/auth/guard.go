package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Verifier validates access tokens.
type Verifier interface {
	VerifyAccess(ctx context.Context, raw string) (string, error)
}

// Guard authenticates bearer tokens and places the subject in the request context.
type Guard struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewGuard builds a Guard.
func NewGuard(verifier Verifier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{verifier: verifier, logger: logger}
}

// Authenticate resolves the subject of r. It never writes a response.
func (g *Guard) Authenticate(r *http.Request) (context.Context, error) {
	subject, err := g.verifier.VerifyAccess(r.Context(), BearerToken(r))
	if err != nil {
		g.logger.Debug("authentication rejected", slog.String("path", r.URL.Path), slog.String("reason", shared.MessageOf(err)))
		return nil, err
	}
	return shared.ContextWithSubject(r.Context(), subject), nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
