package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultOracleTimeout bounds an ownership read when the caller's context
// carries no deadline of its own.
const DefaultOracleTimeout = 5 * time.Second

// Oracle is the read-only ownership adapter on top of a ledger client. Its
// one job is to answer "who holds this token right now" while keeping the
// two failure signals apart:
//
//   - ErrTokenNotFound: the token was burned or never minted. Definitive.
//   - ErrLedgerUnavailable: network trouble or timeout. Transient, retryable,
//     and never evidence about ownership.
type Oracle struct {
	client  Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewOracle creates an oracle. timeout <= 0 falls back to DefaultOracleTimeout.
func NewOracle(client Client, timeout time.Duration, logger *slog.Logger) *Oracle {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		client:  client,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "ownership_oracle")),
	}
}

// ResolveOwner returns the canonical holder address of tokenID. A deadline
// exceeded while waiting on the ledger is classified as ErrLedgerUnavailable.
func (o *Oracle) ResolveOwner(ctx context.Context, tokenID int64) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	holder, err := o.client.OwnerOf(ctx, tokenID)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return CanonicalAddress(holder), nil
	case errors.Is(err, ErrTokenNotFound):
		o.logger.InfoContext(ctx, "token not present on ledger",
			slog.Int64("token_id", tokenID),
			slog.Duration("elapsed", elapsed),
		)
		return "", err
	case errors.Is(err, ErrLedgerUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		o.logger.WarnContext(ctx, "ledger unreachable during ownership resolve",
			slog.Int64("token_id", tokenID),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, ErrLedgerUnavailable) {
			err = fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		return "", err
	default:
		// Unknown client failure: treat as transient rather than inventing
		// an ownership verdict from it.
		o.logger.ErrorContext(ctx, "unexpected ledger error during ownership resolve",
			slog.Int64("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}
