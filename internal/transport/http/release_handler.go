package http

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "keygate/internal/errors"
	"keygate/internal/gate"
	"keygate/internal/license"
	v1 "keygate/pkg/contracts/api/v1"
)

// ReleaseHandler serves the buyer-facing release and bind endpoints.
type ReleaseHandler struct {
	gate   *gate.Gate
	guard  *license.BindingGuard
	logger *slog.Logger
}

// NewReleaseHandler creates a release handler.
func NewReleaseHandler(g *gate.Gate, guard *license.BindingGuard, logger *slog.Logger) *ReleaseHandler {
	return &ReleaseHandler{
		gate:   g,
		guard:  guard,
		logger: logger.With(slog.String("handler", "release")),
	}
}

// Release handles POST /api/v1/licenses/{licenseID}/release.
func (h *ReleaseHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")
	start := time.Now()

	tracer := otel.Tracer("release-handler")
	ctx, span := tracer.Start(ctx, "release_handler.release",
		trace.WithAttributes(
			attribute.String("license.id", licenseID),
		),
	)
	defer span.End()

	var req v1.ReleaseKeyRequest
	if !decode(w, r, &req) {
		return
	}

	rel, err := h.gate.ReleaseKey(ctx, gate.ReleaseRequest{
		LicenseID:        licenseID,
		DeviceID:         req.DeviceID,
		RequesterAddress: req.RequesterAddress,
		Locality:         req.Locality,
	})
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		if d, ok := gate.AsDenial(err); ok {
			span.SetAttributes(
				attribute.String("denial.code", string(d.Code)),
				attribute.String("denial.class", string(d.Class)),
			)
			h.logger.InfoContext(ctx, "key release denied",
				slog.String("license_id", licenseID),
				slog.String("code", string(d.Code)),
				slog.String("class", string(d.Class)),
				slog.Duration("latency", latency),
			)
			writeAPIError(w, r, apierrors.FromDenial(d))
			return
		}
		h.logger.ErrorContext(ctx, "key release failed",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("release.granted", true))
	h.logger.InfoContext(ctx, "key released",
		slog.String("license_id", licenseID),
		slog.Duration("latency", latency),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &v1.ReleaseKeyResponse{
		Key:            base64.StdEncoding.EncodeToString(rel.Key),
		ContentLocator: rel.ContentLocator,
	})
}

// Bind handles POST /api/v1/licenses/{licenseID}/bind. Binding is
// first-write-wins: rebinding the same device is a no-op, a different
// device is a conflict.
func (h *ReleaseHandler) Bind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	var req v1.BindDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.guard.Bind(ctx, licenseID, req.DeviceID); err != nil {
		h.logger.InfoContext(ctx, "device bind rejected",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "device bound",
		slog.String("license_id", licenseID),
	)
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}
