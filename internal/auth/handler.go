package auth

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type emailCodeInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Routes implements httpx.RouteProvider.
func (h *Handler) Routes() []httpx.Route {
	return []httpx.Route{
		{Method: http.MethodPost, Pattern: "/auth/register", Public: true, Handler: h.register},
		{Method: http.MethodPost, Pattern: "/auth/login", Public: true, Handler: h.login},
		{Method: http.MethodPost, Pattern: "/auth/refresh", Public: true, Handler: h.refresh},
		{Method: http.MethodPost, Pattern: "/auth/logout", Handler: h.logout},
		{Method: http.MethodPost, Pattern: "/email/code", Public: true, Handler: h.emailCode},
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in users.CreateInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	created, err := h.service.Register(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	session, err := h.service.Login(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	session, err := h.service.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.SubjectFromContext(r.Context())); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) emailCode(w http.ResponseWriter, r *http.Request) {
	var in emailCodeInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.SendEmailCode(r.Context(), in.Email); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
