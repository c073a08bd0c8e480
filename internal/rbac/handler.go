package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Handler serves effective permission lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes implements httpx.RouteProvider.
func (h *Handler) Routes() []httpx.Route {
	return []httpx.Route{
		{Method: http.MethodGet, Pattern: "/users/me/permissions", Handler: h.mine},
		{Method: http.MethodGet, Pattern: "/users/{id}/permissions", Permissions: []string{users.PermView}, Handler: h.forUser},
	}
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, shared.SubjectFromContext(r.Context()))
}

func (h *Handler) forUser(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, userID string) {
	resolved, err := h.service.Resolve(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resolved)
}
