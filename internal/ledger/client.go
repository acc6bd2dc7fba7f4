package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrLedgerUnavailable wraps network-level failures talking to the ledger
// node: timeouts, connection refusals, 5xx responses. Callers may retry; it
// must never be conflated with ErrTokenNotFound.
var ErrLedgerUnavailable = errors.New("ledger: node unavailable")

// Client is the ledger surface the service consumes. Reads are open to any
// caller; writes are signed with the privileged account the client holds.
type Client interface {
	OwnerOf(ctx context.Context, tokenID int64) (string, error)
	State(ctx context.Context, tokenID int64) (TokenState, error)
	Validate(ctx context.Context, tokenID int64, locality string) (bool, error)

	Mint(ctx context.Context, holder, metadataLocator, localityLock string) (int64, error)
	SetBlocked(ctx context.Context, tokenID int64, blocked bool) error
	Revoke(ctx context.Context, tokenID int64) error
}

// EmbeddedClient runs the contract in-process. Used by tests and by
// single-node deployments where the service hosts the authoritative ledger.
type EmbeddedClient struct {
	contract *Contract
	signer   string
}

// NewEmbeddedClient wraps a contract with the signing account used for writes.
func NewEmbeddedClient(contract *Contract, signer string) *EmbeddedClient {
	return &EmbeddedClient{contract: contract, signer: CanonicalAddress(signer)}
}

func (c *EmbeddedClient) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.OwnerOf(tokenID)
}

func (c *EmbeddedClient) State(ctx context.Context, tokenID int64) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.State(tokenID)
}

func (c *EmbeddedClient) Validate(ctx context.Context, tokenID int64, locality string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.Validate(tokenID, locality)
}

func (c *EmbeddedClient) Mint(ctx context.Context, holder, metadataLocator, localityLock string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.Mint(c.signer, holder, metadataLocator, localityLock)
}

func (c *EmbeddedClient) SetBlocked(ctx context.Context, tokenID int64, blocked bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.SetBlocked(c.signer, tokenID, blocked)
}

func (c *EmbeddedClient) Revoke(ctx context.Context, tokenID int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return c.contract.Revoke(c.signer, tokenID)
}

// HTTPClient talks JSON to a remote ledger node. Reads are retried on
// transient failures; writes go through exactly once per call and rely on the
// node's own idempotency (revoking a burned token reports not-found, which the
// caller converges on).
type HTTPClient struct {
	baseURL     string
	signerToken string
	httpClient  *http.Client
	retries     int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewHTTPClient creates a client for the ledger node at baseURL. signerToken
// is the bearer credential for the privileged account; read-only callers may
// pass an empty token.
func NewHTTPClient(baseURL, signerToken string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:     baseURL,
		signerToken: signerToken,
		httpClient:  &http.Client{Timeout: timeout},
		retries:     3,
		retryDelay:  250 * time.Millisecond,
		logger:      logger.With(slog.String("component", "ledger_client")),
	}
}

type mintRequest struct {
	Holder          string `json:"holder"`
	MetadataLocator string `json:"metadata_locator,omitempty"`
	LocalityLock    string `json:"locality_lock,omitempty"`
}

type mintResponse struct {
	TokenID int64 `json:"token_id"`
}

type blockedRequest struct {
	Blocked bool `json:"blocked"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

func (c *HTTPClient) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	st, err := c.State(ctx, tokenID)
	if err != nil {
		return "", err
	}
	return st.Holder, nil
}

func (c *HTTPClient) State(ctx context.Context, tokenID int64) (TokenState, error) {
	var st TokenState
	err := c.doRead(ctx, c.tokenURL(tokenID, ""), &st)
	if err != nil {
		return TokenState{}, err
	}
	return st, nil
}

func (c *HTTPClient) Validate(ctx context.Context, tokenID int64, locality string) (bool, error) {
	u := c.tokenURL(tokenID, "validate") + "?locality=" + url.QueryEscape(locality)
	var resp validateResponse
	if err := c.doRead(ctx, u, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *HTTPClient) Mint(ctx context.Context, holder, metadataLocator, localityLock string) (int64, error) {
	var resp mintResponse
	err := c.doWrite(ctx, c.baseURL+"/tokens", mintRequest{
		Holder:          CanonicalAddress(holder),
		MetadataLocator: metadataLocator,
		LocalityLock:    localityLock,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.TokenID, nil
}

func (c *HTTPClient) SetBlocked(ctx context.Context, tokenID int64, blocked bool) error {
	return c.doWrite(ctx, c.tokenURL(tokenID, "blocked"), blockedRequest{Blocked: blocked}, nil)
}

func (c *HTTPClient) Revoke(ctx context.Context, tokenID int64) error {
	return c.doWrite(ctx, c.tokenURL(tokenID, "revoke"), struct{}{}, nil)
}

func (c *HTTPClient) tokenURL(tokenID int64, suffix string) string {
	u := c.baseURL + "/tokens/" + strconv.FormatInt(tokenID, 10)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// doRead issues a GET with retry on transient failures. A 404 is returned
// immediately as ErrTokenNotFound; it is a definitive answer, not a fault.
func (c *HTTPClient) doRead(ctx context.Context, url string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrLedgerUnavailable, ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		err := c.do(ctx, http.MethodGet, url, nil, out)
		if err == nil || errors.Is(err, ErrTokenNotFound) {
			return err
		}
		lastErr = err
		c.logger.WarnContext(ctx, "ledger read failed, retrying",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return lastErr
}

// doWrite issues a single POST; mutating calls are not blindly retried.
func (c *HTTPClient) doWrite(ctx context.Context, url string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, url, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal ledger request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.signerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTokenNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrNotAuthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: node returned %d", ErrLedgerUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger: node rejected request (%d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrLedgerUnavailable, err)
	}
	return nil
}
