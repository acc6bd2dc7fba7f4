package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/gate"
	"keygate/internal/ledger"
	"keygate/internal/license"
)

func TestAPIError(t *testing.T) {
	err := New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	assert.Equal(t, "Resource not found", err.Error())
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
	assert.Equal(t, "NOT_FOUND", err.ErrorCode)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrLicenseNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "LICENSE_NOT_FOUND", resp.Error.ErrorCode)
}

func TestErrValidation(t *testing.T) {
	err := ErrValidation("deviceId", "must not be empty")
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", err.ErrorCode)

	detail, ok := err.Details.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "deviceId", detail.Field)
}

func TestFromDenial(t *testing.T) {
	tests := []struct {
		name          string
		denial        *gate.Denial
		wantStatus    int
		wantCode      string
		wantRetryable bool
	}{
		{
			name:       "security denial is forbidden",
			denial:     &gate.Denial{Code: gate.CodeNotOwner, Class: gate.ClassSecurity, Reason: "requester is not the current owner"},
			wantStatus: http.StatusForbidden,
			wantCode:   "NOT_OWNER",
		},
		{
			name:       "device mismatch is forbidden",
			denial:     &gate.Denial{Code: gate.CodeDeviceMismatch, Class: gate.ClassSecurity},
			wantStatus: http.StatusForbidden,
			wantCode:   "DEVICE_MISMATCH",
		},
		{
			name:          "transient ledger failure is bad gateway",
			denial:        &gate.Denial{Code: gate.CodeTransientChainError, Class: gate.ClassTransient, Reason: "ledger unreachable"},
			wantStatus:    http.StatusBadGateway,
			wantCode:      "TRANSIENT_CHAIN_ERROR",
			wantRetryable: true,
		},
		{
			name:       "misconfiguration is internal",
			denial:     &gate.Denial{Code: gate.CodeMisconfigured, Class: gate.ClassOperational, Reason: "sealed key missing"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "MISCONFIGURED",
		},
		{
			name:       "operational not_active is still denied",
			denial:     &gate.Denial{Code: gate.CodeNotActive, Class: gate.ClassOperational, Reason: "deleted by user"},
			wantStatus: http.StatusForbidden,
			wantCode:   "NOT_ACTIVE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromDenial(tt.denial)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)

			detail, ok := apiErr.Details.(DenialDetails)
			require.True(t, ok)
			assert.Equal(t, tt.wantRetryable, detail.Retryable)
		})
	}
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"license not found", license.ErrNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"wrapped license not found", fmt.Errorf("lookup: %w", license.ErrNotFound), http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"software not found", license.ErrSoftwareNotFound, http.StatusNotFound, "SOFTWARE_NOT_FOUND"},
		{"device conflict", license.ErrDeviceMismatch, http.StatusConflict, "DEVICE_ALREADY_BOUND"},
		{"already revoked", license.ErrAlreadyRevoked, http.StatusUnprocessableEntity, "ALREADY_REVOKED"},
		{"not active", license.ErrNotActive, http.StatusUnprocessableEntity, "NOT_ACTIVE"},
		{"invalid transition", license.ErrInvalidTransition, http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
		{"locality rejected", fmt.Errorf("issue: %w", license.ErrLocalityRejected), http.StatusUnprocessableEntity, "LOCALITY_REJECTED"},
		{"ledger unavailable", fmt.Errorf("oracle: %w", ledger.ErrLedgerUnavailable), http.StatusBadGateway, "LEDGER_UNAVAILABLE"},
		{"token gone", ledger.ErrTokenNotFound, http.StatusConflict, "TOKEN_NOT_FOUND"},
		{"ledger auth", ledger.ErrNotAuthorized, http.StatusForbidden, "FORBIDDEN"},
		{"unknown is opaque", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromDomain(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}
}

func TestFromDomainPassesThroughAPIError(t *testing.T) {
	orig := ErrRateLimitExceeded
	assert.Same(t, orig, FromDomain(orig))
}

func TestFromDomainUnwrapsDenial(t *testing.T) {
	d := &gate.Denial{Code: gate.CodeLocalityMismatch, Class: gate.ClassSecurity}
	apiErr := FromDomain(fmt.Errorf("release: %w", d))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "LOCALITY_MISMATCH", apiErr.ErrorCode)
}
