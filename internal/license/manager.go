package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"keygate/internal/ledger"
)

// ReasonSellerRevoked is recorded when the seller burns the token.
const ReasonSellerRevoked = "seller revoked"

// Manager owns the privileged lifecycle operations: issuance, block/unblock,
// revocation and reactivation. Every operation writes the ledger first and
// the registry only after confirmed ledger success, so the two stores never
// diverge on the side of falsely claiming a state the chain does not have.
type Manager struct {
	store  Store
	chain  ledger.Client
	logger *slog.Logger
}

// NewManager creates a lifecycle manager. chain must hold the privileged
// signing credential; the registry alone cannot complete any of these
// operations.
func NewManager(store Store, chain ledger.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		chain:  chain,
		logger: logger.With(slog.String("component", "license_manager")),
	}
}

// Issue mints a ledger token for holder and creates the registry record for
// it, mirroring the purchase flow: the record exists only once a successful
// mint has been observed.
func (m *Manager) Issue(ctx context.Context, softwareID, holder, locality string) (*License, error) {
	sw, err := m.store.GetSoftware(ctx, softwareID)
	if err != nil {
		return nil, err
	}
	holder = CanonicalAddress(holder)
	if holder == "" {
		return nil, fmt.Errorf("license: holder address required")
	}
	// The token's on-chain lock and the registry's locality-at-mint must be
	// the same value, or the ledger's Validate and the release gate would
	// answer the same request differently.
	if sw.LocalityLock != "" && locality != sw.LocalityLock {
		return nil, fmt.Errorf("%w: software is locked to %q", ErrLocalityRejected, sw.LocalityLock)
	}

	tokenID, err := m.chain.Mint(ctx, holder, sw.ContentLocator, sw.LocalityLock)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	now := time.Now().UTC()
	lic := &License{
		ID:             uuid.New().String(),
		SoftwareID:     sw.ID,
		Holder:         holder,
		TokenID:        tokenID,
		Status:         StatusActive,
		LocalityAtMint: locality,
		MintedAt:       now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateLicense(ctx, lic); err != nil {
		// The token exists without a registry record; the next release
		// attempt cannot find the license, and the drift is visible in
		// the ledger event log. Surface it loudly.
		m.logger.ErrorContext(ctx, "registry write failed after mint, stores diverged",
			slog.String("software_id", softwareID),
			slog.Int64("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("create license after mint: %w", err)
	}

	m.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.Int64("token_id", tokenID),
		slog.String("software_id", sw.ID),
	)
	return lic, nil
}

// Revoke burns the ledger token and, only on confirmed success, marks the
// registry record revoked. A ledger failure leaves the registry untouched:
// the registry must never claim a revocation the chain has not performed. A
// token that is already gone from the ledger (burned out of band) still lets
// the registry converge to revoked.
func (m *Manager) Revoke(ctx context.Context, licenseID string) (*License, error) {
	lic, err := m.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if lic.Status == StatusRevoked {
		return nil, ErrAlreadyRevoked
	}

	if err := m.chain.Revoke(ctx, lic.TokenID); err != nil && !errors.Is(err, ledger.ErrTokenNotFound) {
		return nil, fmt.Errorf("ledger revoke: %w", err)
	}

	applied, current, err := m.store.Transition(ctx, licenseID,
		[]Status{StatusActive, StatusBlocked, StatusDeletedByUser},
		Mutation{To: StatusRevoked, Reason: ReasonSellerRevoked},
	)
	if err != nil {
		return nil, fmt.Errorf("registry revoke after ledger burn: %w", err)
	}
	if !applied && current.Status != StatusRevoked {
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, current.Status)
	}

	m.logger.InfoContext(ctx, "license revoked",
		slog.String("license_id", licenseID),
		slog.Int64("token_id", lic.TokenID),
	)
	return current, nil
}

// Reactivate returns a blocked license to active. Revoked is terminal and
// reported as ErrAlreadyRevoked; a soft-deleted or already-active license is
// an illegal transition. The violation reason and timestamp are cleared, and
// so is the device binding: reactivation is the explicit clearing event after
// which the legitimate buyer may bind a new device.
func (m *Manager) Reactivate(ctx context.Context, licenseID string) (*License, error) {
	lic, err := m.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	switch lic.Status {
	case StatusBlocked:
	case StatusRevoked:
		return nil, ErrAlreadyRevoked
	default:
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, lic.Status)
	}

	if err := m.chain.SetBlocked(ctx, lic.TokenID, false); err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) {
			// Burned out of band: converge and report terminal.
			m.correctDrift(ctx, licenseID)
			return nil, ErrAlreadyRevoked
		}
		return nil, fmt.Errorf("ledger unblock: %w", err)
	}

	applied, current, err := m.store.Transition(ctx, licenseID,
		[]Status{StatusBlocked},
		Mutation{To: StatusActive, ClearViolation: true, ClearDevice: true},
	)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, current.Status)
	}

	m.logger.InfoContext(ctx, "license reactivated",
		slog.String("license_id", licenseID),
	)
	return current, nil
}

// Block marks an active license blocked with the given reason, on the ledger
// first and then in the registry.
func (m *Manager) Block(ctx context.Context, licenseID, reason string) (*License, error) {
	lic, err := m.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	// Guard before the chain write: flipping the token's blocked flag for a
	// license the registry cannot move to blocked would strand the two out
	// of step. Blocked is accepted for idempotency.
	switch lic.Status {
	case StatusActive, StatusBlocked:
	case StatusRevoked:
		return nil, ErrAlreadyRevoked
	default:
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, lic.Status)
	}

	if err := m.chain.SetBlocked(ctx, lic.TokenID, true); err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) {
			m.correctDrift(ctx, licenseID)
			return nil, ErrAlreadyRevoked
		}
		return nil, fmt.Errorf("ledger block: %w", err)
	}

	applied, current, err := m.store.Transition(ctx, licenseID,
		[]Status{StatusActive},
		Mutation{To: StatusBlocked, Reason: reason},
	)
	if err != nil {
		return nil, err
	}
	if !applied && current.Status != StatusBlocked {
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, current.Status)
	}
	return current, nil
}

// SoftDelete is the buyer's own delete: active to deleted_by_user. The
// ledger token stays minted; only the seller can burn it.
func (m *Manager) SoftDelete(ctx context.Context, licenseID string) (*License, error) {
	applied, current, err := m.store.Transition(ctx, licenseID,
		[]Status{StatusActive},
		Mutation{To: StatusDeletedByUser},
	)
	if err != nil {
		return nil, err
	}
	if !applied {
		if current.Status == StatusRevoked {
			return nil, ErrAlreadyRevoked
		}
		return nil, fmt.Errorf("%w: from %s", ErrInvalidTransition, current.Status)
	}
	return current, nil
}

// correctDrift marks a license revoked after the ledger reported its token
// gone. Logged as an anomaly; the registry converging here is recovery, not
// normal operation.
func (m *Manager) correctDrift(ctx context.Context, licenseID string) {
	_, _, err := m.store.Transition(ctx, licenseID,
		[]Status{StatusActive, StatusBlocked, StatusDeletedByUser},
		Mutation{To: StatusRevoked, Reason: "token burned on ledger"},
	)
	if err != nil {
		m.logger.ErrorContext(ctx, "drift correction failed",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.WarnContext(ctx, "registry drift corrected: ledger token gone, license marked revoked",
		slog.String("license_id", licenseID),
	)
}
