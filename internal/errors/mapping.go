package errors

import (
	stderrors "errors"
	"net/http"
	"strings"

	"keygate/internal/gate"
	"keygate/internal/ledger"
	"keygate/internal/license"
)

// DenialDetails is the response payload attached to gate denials so callers
// can distinguish retryable outages from definitive refusals.
type DenialDetails struct {
	Code      string `json:"code"`
	Class     string `json:"class"`
	Retryable bool   `json:"retryable"`
}

// FromDenial maps a key-release denial to its HTTP representation. Security
// denials are forbidden, transient ledger failures are a bad gateway so
// clients know to retry, and operational faults are server errors.
func FromDenial(d *gate.Denial) *APIError {
	status := http.StatusForbidden
	switch {
	case d.Code == gate.CodeTransientChainError:
		status = http.StatusBadGateway
	case d.Code == gate.CodeMisconfigured:
		status = http.StatusInternalServerError
	case d.Class == gate.ClassOperational:
		// Denied on registry state without a security violation, e.g. a
		// license the buyer soft-deleted themselves.
		status = http.StatusForbidden
	}

	message := d.Reason
	if message == "" {
		message = "key release denied"
	}
	return NewWithDetails(status, strings.ToUpper(string(d.Code)), message, DenialDetails{
		Code:      string(d.Code),
		Class:     string(d.Class),
		Retryable: d.Retryable(),
	})
}

// FromDomain maps registry and ledger errors to API errors. Unrecognized
// errors become opaque internal server errors.
func FromDomain(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	var denial *gate.Denial
	if stderrors.As(err, &denial) {
		return FromDenial(denial)
	}

	switch {
	case stderrors.Is(err, license.ErrNotFound):
		return ErrLicenseNotFound
	case stderrors.Is(err, license.ErrSoftwareNotFound):
		return ErrSoftwareNotFound
	case stderrors.Is(err, license.ErrDeviceMismatch):
		return ErrDeviceConflict
	case stderrors.Is(err, license.ErrAlreadyRevoked):
		return NewWithDetails(http.StatusUnprocessableEntity, "ALREADY_REVOKED",
			"License is revoked and revocation is permanent", err.Error())
	case stderrors.Is(err, license.ErrNotActive):
		return NewWithDetails(http.StatusUnprocessableEntity, "NOT_ACTIVE",
			"License is not active", err.Error())
	case stderrors.Is(err, license.ErrInvalidTransition):
		return ErrInvalidTransition
	case stderrors.Is(err, license.ErrLocalityRejected):
		return NewWithDetails(http.StatusUnprocessableEntity, "LOCALITY_REJECTED",
			"Locality does not satisfy the software locality lock", err.Error())
	case stderrors.Is(err, ledger.ErrLedgerUnavailable):
		return ErrLedgerUnavailable
	case stderrors.Is(err, ledger.ErrTokenNotFound):
		return NewWithDetails(http.StatusConflict, "TOKEN_NOT_FOUND",
			"Token no longer exists on the ledger", err.Error())
	case stderrors.Is(err, ledger.ErrNotAuthorized):
		return ErrForbidden
	default:
		return ErrInternalServer
	}
}
