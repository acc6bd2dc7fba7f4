package http

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/middleware"
	"keygate/internal/security"
	v1 "keygate/pkg/contracts/api/v1"
)

// AdminHandler serves the privileged seller and operator API: license
// lifecycle operations and software listing management.
type AdminHandler struct {
	manager     *license.Manager
	store       license.Store
	vault       *security.Vault
	issuer      *middleware.TokenIssuer
	adminSecret string
	tokenTTL    time.Duration
	logger      *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(manager *license.Manager, store license.Store, vault *security.Vault, issuer *middleware.TokenIssuer, adminSecret string, tokenTTL time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		manager:     manager,
		store:       store,
		vault:       vault,
		issuer:      issuer,
		adminSecret: adminSecret,
		tokenTTL:    tokenTTL,
		logger:      logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for privileged endpoints. Callers must
// already be authenticated by the RequireAdmin middleware.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/licenses", h.IssueLicense)
	r.Post("/licenses/{licenseID}/revoke", h.RevokeLicense)
	r.Post("/licenses/{licenseID}/block", h.BlockLicense)
	r.Post("/licenses/{licenseID}/unblock", h.UnblockLicense)
	r.Post("/software", h.CreateSoftware)
	r.Get("/software/{softwareID}", h.GetSoftware)
	return r
}

// Token handles POST /api/v1/admin/token. It exchanges the shared admin
// secret for a short-lived bearer token and is the only admin endpoint
// outside the RequireAdmin guard.
func (h *AdminHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req v1.AdminTokenRequest
	if !decode(w, r, &req) {
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		h.logger.WarnContext(ctx, "admin token request with wrong secret",
			slog.String("subject", req.Subject),
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeAPIError(w, r, apierrors.ErrUnauthorized)
		return
	}

	token, err := h.issuer.Issue(req.Subject)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &v1.AdminTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.tokenTTL),
	})
}

// IssueLicense handles POST /api/v1/admin/licenses. It mints the ledger
// token first and then creates the registry record.
func (h *AdminHandler) IssueLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req v1.IssueLicenseRequest
	if !decode(w, r, &req) {
		return
	}

	lic, err := h.manager.Issue(ctx, req.SoftwareID, req.HolderAddress, req.Locality)
	if err != nil {
		h.logger.ErrorContext(ctx, "license issuance failed",
			slog.String("software_id", req.SoftwareID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.String("software_id", lic.SoftwareID),
		slog.Int64("token_id", lic.TokenID),
		slog.String("admin", middleware.AdminSubject(ctx)),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, licenseResponse(lic))
}

// RevokeLicense handles POST /api/v1/admin/licenses/{licenseID}/revoke.
// Revocation burns the token and is permanent.
func (h *AdminHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	lic, err := h.manager.Revoke(ctx, licenseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license revoked",
		slog.String("license_id", licenseID),
		slog.String("admin", middleware.AdminSubject(ctx)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse(lic))
}

// BlockLicense handles POST /api/v1/admin/licenses/{licenseID}/block.
func (h *AdminHandler) BlockLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	var req v1.BlockLicenseRequest
	if !decode(w, r, &req) {
		return
	}

	lic, err := h.manager.Block(ctx, licenseID, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license blocked",
		slog.String("license_id", licenseID),
		slog.String("reason", req.Reason),
		slog.String("admin", middleware.AdminSubject(ctx)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse(lic))
}

// UnblockLicense handles POST /api/v1/admin/licenses/{licenseID}/unblock.
// Reactivation clears the device binding so the buyer can re-establish
// trust on their current device.
func (h *AdminHandler) UnblockLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	lic, err := h.manager.Reactivate(ctx, licenseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license reactivated",
		slog.String("license_id", licenseID),
		slog.String("admin", middleware.AdminSubject(ctx)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, licenseResponse(lic))
}

// CreateSoftware handles POST /api/v1/admin/software. The raw content key
// is sealed before it touches the registry.
func (h *AdminHandler) CreateSoftware(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req v1.CreateSoftwareRequest
	if !decode(w, r, &req) {
		return
	}

	rawKey, err := base64.StdEncoding.DecodeString(req.ContentKey)
	if err != nil {
		writeAPIError(w, r, apierrors.ErrValidation("contentKey", "must be valid base64"))
		return
	}

	sealed, err := h.vault.Seal(rawKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "content key sealing failed",
			slog.String("software_id", req.ID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, err)
		return
	}

	sw := &license.Software{
		ID:                req.ID,
		Title:             req.Title,
		SellerAddress:     license.CanonicalAddress(req.SellerAddress),
		ContentLocator:    req.ContentLocator,
		SealedKey:         sealed,
		RequireDeviceLock: req.RequireDeviceLock,
		LocalityLock:      req.LocalityLock,
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.store.CreateSoftware(ctx, sw); err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "software listing created",
		slog.String("software_id", sw.ID),
		slog.Bool("device_lock", sw.RequireDeviceLock),
		slog.String("admin", middleware.AdminSubject(ctx)),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, softwareResponse(sw))
}

// GetSoftware handles GET /api/v1/admin/software/{softwareID}.
func (h *AdminHandler) GetSoftware(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	softwareID := chi.URLParam(r, "softwareID")

	sw, err := h.store.GetSoftware(ctx, softwareID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, softwareResponse(sw))
}
