package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient lets tests script the ledger's answers.
type stubClient struct {
	Client
	ownerOf func(ctx context.Context, tokenID int64) (string, error)
}

func (s *stubClient) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	return s.ownerOf(ctx, tokenID)
}

func TestOracleResolveOwner(t *testing.T) {
	tests := []struct {
		name       string
		ownerOf    func(ctx context.Context, tokenID int64) (string, error)
		wantHolder string
		wantErr    error
	}{
		{
			name: "holder resolved and canonicalized",
			ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
				return "0xAbCd", nil
			},
			wantHolder: "0xabcd",
		},
		{
			name: "burned token surfaces not found",
			ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
				return "", ErrTokenNotFound
			},
			wantErr: ErrTokenNotFound,
		},
		{
			name: "network failure surfaces unavailable",
			ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
				return "", fmt.Errorf("%w: connection refused", ErrLedgerUnavailable)
			},
			wantErr: ErrLedgerUnavailable,
		},
		{
			name: "deadline exceeded is classified transient, not security",
			ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
				return "", context.DeadlineExceeded
			},
			wantErr: ErrLedgerUnavailable,
		},
		{
			name: "unknown failure is classified transient",
			ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
				return "", errors.New("weird rpc failure")
			},
			wantErr: ErrLedgerUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := NewOracle(&stubClient{ownerOf: tt.ownerOf}, time.Second, nil)
			holder, err := oracle.ResolveOwner(context.Background(), 1)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHolder, holder)
		})
	}
}

func TestOracleAppliesDefaultTimeout(t *testing.T) {
	oracle := NewOracle(&stubClient{
		ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok, "oracle must bound the ledger call with a deadline")
			assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)
			return "0xabc", nil
		},
	}, 50*time.Millisecond, nil)

	_, err := oracle.ResolveOwner(context.Background(), 1)
	require.NoError(t, err)
}

func TestOracleKeepsCallerDeadline(t *testing.T) {
	callerDeadline := time.Now().Add(10 * time.Second)
	oracle := NewOracle(&stubClient{
		ownerOf: func(ctx context.Context, tokenID int64) (string, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, callerDeadline, deadline, 100*time.Millisecond)
			return "0xabc", nil
		},
	}, time.Second, nil)

	ctx, cancel := context.WithDeadline(context.Background(), callerDeadline)
	defer cancel()
	_, err := oracle.ResolveOwner(ctx, 1)
	require.NoError(t, err)
}

func TestHTTPClientClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "404 means token gone", status: http.StatusNotFound, wantErr: ErrTokenNotFound},
		{name: "500 means unavailable", status: http.StatusInternalServerError, wantErr: ErrLedgerUnavailable},
		{name: "403 means not authorized", status: http.StatusForbidden, wantErr: ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL, "signer-token", time.Second, nil)
			_, err := client.OwnerOf(context.Background(), 7)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPClientRetriesReads(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_id":7,"holder":"0xabc","blocked":false}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", 2*time.Second, nil)
	holder, err := client.OwnerOf(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", holder)
	assert.Equal(t, int64(3), calls.Load())
}

func TestHTTPClientDoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "signer-token", time.Second, nil)
	err := client.Revoke(context.Background(), 7)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, int64(1), calls.Load(), "mutating calls must not be retried blindly")
}
