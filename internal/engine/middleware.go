package engine

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatehouse/gatehouse/internal/platform/httpx"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// Guard wires the decision engine in front of HTTP handlers. The acting
// principal comes from the request session.
type Guard struct {
	Engine *Engine
	Logger *slog.Logger
}

// Protect denies requests the engine does not allow. Anonymous requests are
// rejected before the engine runs; there is no principal to decide for.
func (g Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.ActorFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		decision, err := g.Engine.Decide(r.Context(), Request{
			UserID:    userID,
			Path:      r.URL.Path,
			Method:    r.Method,
			RequestID: middleware.GetReqID(r.Context()),
		})
		if err != nil {
			if g.Logger != nil {
				g.Logger.Error("access decision failed closed", slog.Any("error", err))
			}
			if errors.Is(err, ErrStoreUnavailable) {
				httpx.RespondError(w, httpx.ErrUnavailable)
				return
			}
			httpx.RespondError(w, err)
			return
		}
		if !decision.Allow {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", decision.Reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}
