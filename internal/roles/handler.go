package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Permission names guarding the role routes when enforcement is enabled.
const (
	PermView   = "roles.view"
	PermManage = "roles.manage"
)

// Handler serves role endpoints.
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
	view := []string{PermView}
	manage := []string{PermManage}
	return []httpx.Route{
		{Method: http.MethodPost, Pattern: "/roles", Permissions: manage, Handler: h.create},
		{Method: http.MethodGet, Pattern: "/roles", Permissions: view, Handler: h.list},
		{Method: http.MethodGet, Pattern: "/roles/{id}", Permissions: view, Handler: h.get},
		{Method: http.MethodPut, Pattern: "/roles/{id}", Permissions: manage, Handler: h.update},
		{Method: http.MethodDelete, Pattern: "/roles/{id}", Permissions: manage, Handler: h.delete},
		{Method: http.MethodGet, Pattern: "/roles/{id}/permissions", Permissions: view, Handler: h.listPermissions},
		{Method: http.MethodPost, Pattern: "/roles/{id}/permissions", Permissions: manage, Handler: h.addPermissions},
		{Method: http.MethodPut, Pattern: "/roles/{id}/permissions", Permissions: manage, Handler: h.replacePermissions},
		{Method: http.MethodDelete, Pattern: "/roles/{id}/permissions", Permissions: manage, Handler: h.clearPermissions},
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), shared.SubjectFromContext(r.Context()), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := httpx.DecodeAndValidate(r, &patch); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	updated, err := h.service.Update(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.Delete(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, deleted)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Permissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) addPermissions(w http.ResponseWriter, r *http.Request) {
	var in IDsInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.AddPermissions(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), in.IDs); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.listPermissions(w, r)
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	var in IDsInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.ReplacePermissions(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id"), in.IDs); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.listPermissions(w, r)
}

func (h *Handler) clearPermissions(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearPermissions(r.Context(), shared.SubjectFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
