package http

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "keygate/internal/errors"
	"keygate/internal/license"
	v1 "keygate/pkg/contracts/api/v1"
)

var validate = validator.New()

// decode unmarshals and validates a JSON request body. A false return means
// the error response has already been written.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		writeAPIError(w, r, apierrors.InvalidRequestWithError(err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]apierrors.ValidationError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, apierrors.ValidationError{
					Field:   fe.Field(),
					Message: fe.Tag(),
				})
			}
			writeAPIError(w, r, apierrors.NewValidationErrors(fields))
			return false
		}
		writeAPIError(w, r, apierrors.InvalidRequestWithError(err))
		return false
	}
	return true
}

// writeAPIError renders a structured error response.
func writeAPIError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, apierrors.NewErrorResponse(apiErr))
}

// writeDomainError maps a domain error and renders it.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	writeAPIError(w, r, apierrors.FromDomain(err))
}

// licenseResponse converts a registry record into its API view.
func licenseResponse(lic *license.License) *v1.LicenseResponse {
	return &v1.LicenseResponse{
		ID:              lic.ID,
		SoftwareID:      lic.SoftwareID,
		Holder:          lic.Holder,
		TokenID:         lic.TokenID,
		Status:          string(lic.Status),
		DeviceID:        lic.DeviceID,
		Reason:          lic.Reason,
		LocalityAtMint:  lic.LocalityAtMint,
		MintedAt:        lic.MintedAt,
		LastViolationAt: lic.LastViolationAt,
		UpdatedAt:       lic.UpdatedAt,
	}
}

// softwareResponse converts a software listing into its API view.
func softwareResponse(sw *license.Software) *v1.SoftwareResponse {
	return &v1.SoftwareResponse{
		ID:                sw.ID,
		Title:             sw.Title,
		SellerAddress:     sw.SellerAddress,
		ContentLocator:    sw.ContentLocator,
		RequireDeviceLock: sw.RequireDeviceLock,
		LocalityLock:      sw.LocalityLock,
		CreatedAt:         sw.CreatedAt,
	}
}
