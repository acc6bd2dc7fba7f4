package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/license"
	v1 "keygate/pkg/contracts/api/v1"
)

// LicenseHandler serves buyer-facing license inspection and soft deletion.
type LicenseHandler struct {
	store   license.Store
	manager *license.Manager
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(store license.Store, manager *license.Manager, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		store:   store,
		manager: manager,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Get handles GET /api/v1/licenses/{licenseID}.
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	lic, err := h.store.GetLicense(ctx, licenseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse(lic))
}

// SoftDelete handles DELETE /api/v1/licenses/{licenseID}. The buyer hides
// the license from their own use; the ledger token survives so the seller
// can still revoke it.
func (h *LicenseHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	lic, err := h.manager.SoftDelete(ctx, licenseID)
	if err != nil {
		h.logger.InfoContext(ctx, "soft delete rejected",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license soft deleted",
		slog.String("license_id", licenseID),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse(lic))
}

// ListByHolder handles GET /api/v1/holders/{address}/licenses.
func (h *LicenseHandler) ListByHolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := chi.URLParam(r, "address")

	licenses, err := h.store.ListLicensesByHolder(ctx, address)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]*v1.LicenseResponse, 0, len(licenses))
	for _, lic := range licenses {
		out = append(out, licenseResponse(lic))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, out)
}
