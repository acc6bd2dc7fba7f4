package app

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/config"
	"keygate/internal/infrastructure"
	v1 "keygate/pkg/contracts/api/v1"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(infrastructure.ResetLoggerForTesting)

	cfg := config.Default()
	cfg.Security.RateLimit.Enabled = false

	app, err := NewApplicationWithConfig(cfg)
	require.NoError(t, err)
	return app
}

func TestApplicationWiring(t *testing.T) {
	app := newTestApp(t)

	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Gate)
	assert.NotNil(t, app.Manager)
	assert.NotNil(t, app.Guard)
	assert.NotNil(t, app.Chain)
	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Server)
	assert.Equal(t, ":8080", app.Server.Addr)
}

func TestApplicationRejectsBadConfig(t *testing.T) {
	infrastructure.ResetLoggerForTesting()
	defer infrastructure.ResetLoggerForTesting()

	cfg := config.Default()
	cfg.Registry.Driver = "cassandra"

	_, err := NewApplicationWithConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown registry driver")
}

func TestHealthRoute(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminFlowThroughRouter(t *testing.T) {
	app := newTestApp(t)

	// Exchange the shared secret for a bearer token.
	body, _ := json.Marshal(v1.AdminTokenRequest{
		Subject: "operator",
		Secret:  app.Config.Security.AdminJWTSecret,
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokenResp v1.AdminTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))

	// Create a software listing with the token.
	body, _ = json.Marshal(v1.CreateSoftwareRequest{
		ID:             "sw-1",
		Title:          "App",
		SellerAddress:  app.Config.Ledger.PrivilegedAddress,
		ContentLocator: "ipfs://app",
		ContentKey:     base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
	})
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/software", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	app.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Without the token the same call is rejected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/software", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
