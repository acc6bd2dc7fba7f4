package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/ledger"
	"keygate/pkg/contracts"
	v1 "keygate/pkg/contracts/api/v1"
)

// HealthHandler reports liveness and the reachability of the ledger.
type HealthHandler struct {
	chain  ledger.Client
	probe  int64
	logger *slog.Logger
}

// NewHealthHandler creates a health handler. probeToken is a token ID used
// only to exercise the ledger connection; a not-found answer still proves
// the ledger responds.
func NewHealthHandler(chain ledger.Client, probeToken int64, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		chain:  chain,
		probe:  probeToken,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// Routes returns a chi router for health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Health)
	r.Get("/live", h.Liveness)
	return r
}

// Liveness handles GET /healthz/live: process is up, nothing else checked.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, &v1.HealthResponse{
		Status:    "ok",
		Version:   contracts.Version,
		Timestamp: time.Now().UTC(),
	})
}

// Health handles GET /healthz: liveness plus a ledger reachability probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"ledger": "ok"}
	status := "ok"
	code := http.StatusOK

	if h.chain != nil {
		_, err := h.chain.OwnerOf(ctx, h.probe)
		switch {
		case err == nil, isTokenNotFound(err):
			// Either answer means the ledger is reachable.
		default:
			checks["ledger"] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "ledger health probe failed",
				slog.String("error", err.Error()),
			)
		}
	}

	render.Status(r, code)
	render.JSON(w, r, &v1.HealthResponse{
		Status:    status,
		Version:   contracts.Version,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}

func isTokenNotFound(err error) bool {
	return errors.Is(err, ledger.ErrTokenNotFound)
}
