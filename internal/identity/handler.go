package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse/gatehouse/internal/platform/httpx"
	"github.com/gatehouse/gatehouse/internal/rbac"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Get("/{id}", h.getUser)
	r.Put("/{id}", h.updateUser)
	r.Get("/{id}/roles", h.listUserRoles)
	r.Put("/{id}/roles/{roleID}", h.assignRole)
	r.Delete("/{id}/roles/{roleID}", h.removeRole)
}

type createUserPayload struct {
	Email      string         `json:"email" validate:"required,email"`
	Name       string         `json:"name" validate:"required,max=200"`
	Password   string         `json:"password" validate:"required,min=8"`
	Department string         `json:"department"`
	Region     string         `json:"region"`
	Level      int            `json:"level" validate:"gte=0"`
	IsActive   *bool          `json:"is_active"`
	Attributes map[string]any `json:"attributes"`
}

type updateUserPayload struct {
	Name       string         `json:"name" validate:"required,max=200"`
	Department string         `json:"department"`
	Region     string         `json:"region"`
	Level      int            `json:"level" validate:"gte=0"`
	IsActive   bool           `json:"is_active"`
	Attributes map[string]any `json:"attributes"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.respondError(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserPayload
	if !h.decode(w, r, &payload) {
		return
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	user, err := h.service.CreateUser(r.Context(), actor(r), User{
		Email:      payload.Email,
		Name:       payload.Name,
		Department: payload.Department,
		Region:     payload.Region,
		Level:      payload.Level,
		IsActive:   active,
		Attributes: payload.Attributes,
	}, payload.Password)
	if err != nil {
		h.respondError(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload updateUserPayload
	if !h.decode(w, r, &payload) {
		return
	}
	user, err := h.service.UpdateUser(r.Context(), actor(r), User{
		ID:         id,
		Name:       payload.Name,
		Department: payload.Department,
		Region:     payload.Region,
		Level:      payload.Level,
		IsActive:   payload.IsActive,
		Attributes: payload.Attributes,
	})
	if err != nil {
		h.respondError(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.service.GetUser(r.Context(), id); err != nil {
		h.respondError(w, "get user", err)
		return
	}
	roles, err := h.service.GetUserRoles(r.Context(), id)
	if err != nil {
		h.respondError(w, "list user roles", err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), actor(r), userID, roleID); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), actor(r), userID, roleID); err != nil {
		h.respondError(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, "malformed JSON body"))
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, param))
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicateEmail):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrDuplicate, err.Error()))
	case errors.Is(err, ErrInvalid):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actor(r *http.Request) *int64 {
	if id, ok := shared.ActorFromContext(r.Context()); ok {
		return &id
	}
	return nil
}
