package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Permission names guarding user administration when enforcement is enabled.
const (
	PermView   = "users.view"
	PermManage = "users.manage"
)

// SessionRevoker ends every live session of a subject.
type SessionRevoker interface {
	Revoke(ctx context.Context, subject string) error
}

// Handler manages user endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions SessionRevoker
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions SessionRevoker) *Handler {
	return &Handler{logger: logger, service: service, sessions: sessions}
}

type rolesInput struct {
	IDs []string `json:"ids" validate:"omitempty,dive,required"`
}

// Routes implements httpx.RouteProvider.
func (h *Handler) Routes() []httpx.Route {
	view := []string{PermView}
	manage := []string{PermManage}
	return []httpx.Route{
		{Method: http.MethodGet, Pattern: "/users/me", Handler: h.me},
		{Method: http.MethodPut, Pattern: "/users/me", Handler: h.updateMe},
		{Method: http.MethodDelete, Pattern: "/users/me", Handler: h.cancelMe},
		{Method: http.MethodGet, Pattern: "/users", Permissions: view, Handler: h.list},
		{Method: http.MethodGet, Pattern: "/users/{id}", Permissions: view, Handler: h.get},
		{Method: http.MethodPut, Pattern: "/users/{id}", Permissions: manage, Handler: h.update},
		{Method: http.MethodDelete, Pattern: "/users/{id}", Permissions: manage, Handler: h.cancel},
		{Method: http.MethodGet, Pattern: "/users/{id}/roles", Permissions: view, Handler: h.listRoles},
		{Method: http.MethodPost, Pattern: "/users/{id}/roles", Permissions: manage, Handler: h.addRoles},
		{Method: http.MethodPut, Pattern: "/users/{id}/roles", Permissions: manage, Handler: h.replaceRoles},
		{Method: http.MethodDelete, Pattern: "/users/{id}/roles", Permissions: manage, Handler: h.clearRoles},
	}
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, shared.SubjectFromContext(r.Context()))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) respondUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	h.applyUpdate(w, r, shared.SubjectFromContext(r.Context()))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.applyUpdate(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) applyUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var patch Patch
	if err := httpx.DecodeAndValidate(r, &patch); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	updated, err := h.service.Update(r.Context(), shared.SubjectFromContext(r.Context()), id, patch)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) cancelMe(w http.ResponseWriter, r *http.Request) {
	h.applyCancel(w, r, shared.SubjectFromContext(r.Context()))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.applyCancel(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) applyCancel(w http.ResponseWriter, r *http.Request, id string) {
	cancelled, err := h.service.Cancel(r.Context(), shared.SubjectFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if h.sessions != nil {
		if err := h.sessions.Revoke(r.Context(), id); err != nil {
			h.logger.Warn("revoke sessions after cancel", slog.String("user", id), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, cancelled)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Roles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) addRoles(w http.ResponseWriter, r *http.Request) {
	h.changeRoles(w, r, h.service.AddRoles)
}

func (h *Handler) replaceRoles(w http.ResponseWriter, r *http.Request) {
	h.changeRoles(w, r, h.service.ReplaceRoles)
}

func (h *Handler) changeRoles(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, string, []string) error) {
	var in rolesInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := apply(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), in.IDs); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.listRoles(w, r)
}

func (h *Handler) clearRoles(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearRoles(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
