package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/gatehouse/internal/platform/httpx"
)

// Handler exposes read-only audit trail listings.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/access-logs", h.listAccessLogs)
	r.Get("/policy-violations", h.listPolicyViolations)
	r.Get("/change-history", h.listChanges)
}

func (h *Handler) listAccessLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := AccessLogFilters{
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		UserID:   parseID(q.Get("user_id")),
		Decision: q.Get("decision"),
		Path:     q.Get("path"),
		Page:     parseInt(q.Get("page")),
		PageSize: parseInt(q.Get("page_size")),
	}
	result, err := h.service.AccessLogs(r.Context(), filters)
	if err != nil {
		h.logger.Error("list access logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listPolicyViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, paging, err := h.service.PolicyViolations(r.Context(), parseID(q.Get("user_id")), parseInt(q.Get("page")), parseInt(q.Get("page_size")))
	if err != nil {
		h.logger.Error("list policy violations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows, "paging": paging})
}

func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ChangeFilters{
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		ActorID:  parseID(q.Get("actor_id")),
		Table:    q.Get("table"),
		Action:   q.Get("action"),
		Page:     parseInt(q.Get("page")),
		PageSize: parseInt(q.Get("page_size")),
	}
	result, err := h.service.Changes(r.Context(), filters)
	if err != nil {
		h.logger.Error("list change history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func parseInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}
