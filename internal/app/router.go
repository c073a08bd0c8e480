package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Authenticator resolves the subject of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (context.Context, error)
}

// Authorizer checks that a subject holds one of a set of permissions.
type Authorizer interface {
	CheckAny(ctx context.Context, subject string, perms ...string) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger    *slog.Logger
	Config    *Config
	Metrics   *observability.Metrics
	Auth      Authenticator
	RBAC      Authorizer
	Providers []httpx.RouteProvider
	Health    map[string]HealthCheck
}

// Capability is one row of the route table as exposed for inspection.
type Capability struct {
	Method       string   `json:"method"`
	Pattern      string   `json:"pattern"`
	RequiresAuth bool     `json:"requires_auth"`
	Permissions  []string `json:"permissions,omitempty"`
}

// Capabilities flattens the route table of providers, sorted by pattern.
func Capabilities(providers []httpx.RouteProvider) []Capability {
	var out []Capability
	for _, p := range providers {
		for _, route := range p.Routes() {
			out = append(out, Capability{
				Method:       route.Method,
				Pattern:      route.Pattern,
				RequiresAuth: !route.Public,
				Permissions:  route.Permissions,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// NewRouter constructs the chi.Router with Odyssey defaults. Every provider
// route passes through one guard that consults its capability entry.
func NewRouter(params RouterParams) (http.Handler, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	g := guard{
		auth:    params.Auth,
		rbac:    params.RBAC,
		enforce: params.Config != nil && params.Config.RBACEnforce,
		metrics: params.Metrics,
		logger:  logger,
	}
	seen := make(map[string]struct{})
	for _, p := range params.Providers {
		for _, route := range p.Routes() {
			key := route.Method + " " + route.Pattern
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("router: duplicate route %s", key)
			}
			seen[key] = struct{}{}
			if !route.Public && g.auth == nil {
				return nil, fmt.Errorf("router: %s requires auth but no authenticator configured", key)
			}
			r.Method(route.Method, route.Pattern, g.wrap(route))
		}
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})
	return r, nil
}

type guard struct {
	auth    Authenticator
	rbac    Authorizer
	enforce bool
	metrics *observability.Metrics
	logger  *slog.Logger
}

func (g guard) wrap(route httpx.Route) http.Handler {
	if route.Public {
		return route.Handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := g.auth.Authenticate(r)
		if err != nil {
			g.metrics.RecordAuthFailure(shared.MessageOf(err))
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httpx.RespondError(w, g.logger, err)
			return
		}
		if g.enforce && len(route.Permissions) > 0 && g.rbac != nil {
			if err := g.rbac.CheckAny(ctx, shared.SubjectFromContext(ctx), route.Permissions...); err != nil {
				httpx.RespondError(w, g.logger, err)
				return
			}
		}
		route.Handler(w, r.WithContext(ctx))
	})
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := healthStatus{Status: "ok"}
		if len(checks) > 0 {
			out.Checks = make(map[string]string, len(checks))
		}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				out.Checks[name] = err.Error()
				out.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
