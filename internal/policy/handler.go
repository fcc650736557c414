package policy

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

// Handler manages policy administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
}

type policyPayload struct {
	FeatureID int64  `json:"feature_id" validate:"required,gt=0"`
	Attribute string `json:"attribute" validate:"required"`
	Operator  string `json:"operator" validate:"required,max=10"`
	Value     string `json:"value" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if featureID := r.URL.Query().Get("feature_id"); featureID != "" {
		id, err := strconv.ParseInt(featureID, 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: feature_id must be numeric", httpx.ErrValidation))
			return
		}
		policies, err := h.service.ForFeature(r.Context(), id)
		if err != nil {
			h.logger.Error("list feature policies", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, policies)
		return
	}
	policies, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list policies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policies)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "get policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload policyPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, "malformed JSON body"))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
		return
	}
	actor := actorPtr(r)
	created, err := h.service.Create(r.Context(), actor, Policy{
		FeatureID: payload.FeatureID,
		Attribute: payload.Attribute,
		Operator:  Operator(payload.Operator),
		Value:     payload.Value,
	})
	if err != nil {
		h.respondServiceError(w, "create policy", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload policyPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, "malformed JSON body"))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
		return
	}
	updated, err := h.service.Update(r.Context(), actorPtr(r), Policy{
		ID:        id,
		FeatureID: payload.FeatureID,
		Attribute: payload.Attribute,
		Operator:  Operator(payload.Operator),
		Value:     payload.Value,
	})
	if err != nil {
		h.respondServiceError(w, "update policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorPtr(r), id); err != nil {
		h.respondServiceError(w, "delete policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalid):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", httpx.ErrValidation)
	}
	return id, nil
}

func actorPtr(r *http.Request) *int64 {
	if id, ok := shared.ActorFromContext(r.Context()); ok {
		return &id
	}
	return nil
}
