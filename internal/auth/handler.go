package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/voxpoll/voxpoll/internal/platform/httpx"
	"github.com/voxpoll/voxpoll/internal/shared"
)

// Handler wires HTTP endpoints for registration and token flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if fields := h.validateStruct(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}

	created, err := h.service.Register(r.Context(), RegisterInput{
		Username:        strings.TrimSpace(req.Username),
		Email:           strings.TrimSpace(strings.ToLower(req.Email)),
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		var validationErr *shared.ValidationError
		if errors.As(err, &validationErr) {
			httpx.ValidationProblem(w, validationErr.Fields)
			return
		}
		h.logger.Error("user registration failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Registration Failed", "registration failed, please try again")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"message": "user registered successfully",
		"data":    created,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if fields := h.validateStruct(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}

	pair, err := h.service.Login(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		var lockedErr *shared.LockedError
		switch {
		case errors.As(err, &lockedErr), errors.Is(err, shared.ErrInvalidCredentials):
			httpx.RespondError(w, err)
		default:
			h.logger.Error("login failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}

	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if fields := h.validateStruct(req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "refresh token is invalid or expired")
			return
		}
		h.logger.Error("token refresh failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) validateStruct(v any) map[string]string {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldErr := range validationErrors {
			fields[fieldErr.Field()] = fieldErr.Error()
		}
	} else {
		fields["general"] = "invalid request"
	}
	return fields
}
