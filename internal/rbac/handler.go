package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse/gatehouse/internal/platform/httpx"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// Handler manages role/feature graph endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers role and feature routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{id}", h.getRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Get("/{id}/features", h.listRoleFeatures)
		r.Put("/{id}/features/{featureID}", h.setRoleFeature)
		r.Delete("/{id}/features/{featureID}", h.clearRoleFeature)
	})
	r.Route("/features", func(r chi.Router) {
		r.Get("/", h.listFeatures)
		r.Post("/", h.createFeature)
		r.Get("/{id}", h.getFeature)
		r.Put("/{id}", h.updateFeature)
		r.Delete("/{id}", h.deleteFeature)
	})
	r.Route("/feature-categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
	})
}

type rolePayload struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	GrantsAll   bool   `json:"grants_all"`
}

type featurePayload struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	CategoryID  *int64 `json:"category_id"`
}

type categoryPayload struct {
	Name  string `json:"name" validate:"required,max=100"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

type capabilityPayload struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), actor(r), Role{
		Name:        payload.Name,
		Description: payload.Description,
		GrantsAll:   payload.GrantsAll,
	})
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actor(r), Role{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		GrantsAll:   payload.GrantsAll,
	})
	if err != nil {
		h.respondError(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), actor(r), id); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRoleFeatures(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.service.RoleCapabilities(r.Context(), id)
	if err != nil {
		h.respondError(w, "list role features", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) setRoleFeature(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	featureID, ok := h.pathID(w, r, "featureID")
	if !ok {
		return
	}
	var payload capabilityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	row, err := h.service.SetRoleFeature(r.Context(), actor(r), RoleFeature{
		RoleID:    roleID,
		FeatureID: featureID,
		Capabilities: Capabilities{
			CanCreate: payload.CanCreate,
			CanRead:   payload.CanRead,
			CanUpdate: payload.CanUpdate,
			CanDelete: payload.CanDelete,
		},
	})
	if err != nil {
		h.respondError(w, "set role feature", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) clearRoleFeature(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	featureID, ok := h.pathID(w, r, "featureID")
	if !ok {
		return
	}
	if err := h.service.ClearRoleFeature(r.Context(), actor(r), roleID, featureID); err != nil {
		h.respondError(w, "clear role feature", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.service.ListFeatures(r.Context())
	if err != nil {
		h.respondError(w, "list features", err)
		return
	}
	httpx.JSON(w, http.StatusOK, features)
}

func (h *Handler) getFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	feature, err := h.service.GetFeature(r.Context(), id)
	if err != nil {
		h.respondError(w, "get feature", err)
		return
	}
	httpx.JSON(w, http.StatusOK, feature)
}

func (h *Handler) createFeature(w http.ResponseWriter, r *http.Request) {
	var payload featurePayload
	if !h.decode(w, r, &payload) {
		return
	}
	feature, err := h.service.CreateFeature(r.Context(), actor(r), Feature{
		Name:        payload.Name,
		Description: payload.Description,
		CategoryID:  payload.CategoryID,
	})
	if err != nil {
		h.respondError(w, "create feature", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, feature)
}

func (h *Handler) updateFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload featurePayload
	if !h.decode(w, r, &payload) {
		return
	}
	feature, err := h.service.UpdateFeature(r.Context(), actor(r), Feature{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		CategoryID:  payload.CategoryID,
	})
	if err != nil {
		h.respondError(w, "update feature", err)
		return
	}
	httpx.JSON(w, http.StatusOK, feature)
}

func (h *Handler) deleteFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteFeature(r.Context(), actor(r), id); err != nil {
		h.respondError(w, "delete feature", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.respondError(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var payload categoryPayload
	if !h.decode(w, r, &payload) {
		return
	}
	category, err := h.service.CreateCategory(r.Context(), actor(r), FeatureCategory{
		Name:  payload.Name,
		Color: payload.Color,
		Icon:  payload.Icon,
	})
	if err != nil {
		h.respondError(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
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
	case errors.Is(err, ErrDuplicateName):
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
