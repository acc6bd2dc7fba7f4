// Package gate implements the key-release decision procedure: a license
// yields its content key only when the local registry, the on-ledger
// ownership record, and the device/locality binding unanimously agree. Every
// call re-verifies end to end; the gate never caches a positive result.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"keygate/internal/ledger"
	"keygate/internal/license"
	"keygate/internal/notify"
	"keygate/internal/security"
)

// ReasonDeviceViolation is recorded on the license when a foreign device
// presents it. The wording is matched by the not_active classifier, so keep
// the "device violation" stem stable.
const ReasonDeviceViolation = "device violation: presented device does not match bound device"

// ReleaseRequest is the buyer-facing input. DeviceID and Locality are opaque
// tokens generated and persisted client-side; the gate compares them for
// equality and nothing else.
type ReleaseRequest struct {
	LicenseID        string
	DeviceID         string
	RequesterAddress string
	Locality         string
}

// Release is a successful outcome: the symmetric content key and where the
// encrypted artifact lives. The key's confidentiality in transit is the
// caller's channel's problem, not the gate's.
type Release struct {
	Key            []byte
	ContentLocator string
}

// Gate orchestrates the registry, the ownership oracle, the binding state
// and the vault into one ordered decision.
type Gate struct {
	store    license.Store
	oracle   *ledger.Oracle
	vault    *security.Vault
	notifier notify.SellerNotifier
	logger   *slog.Logger
	metrics  *Metrics
}

// New creates a gate. notifier may be nil (violations are then only logged);
// metrics may be nil.
func New(store license.Store, oracle *ledger.Oracle, vault *security.Vault, notifier notify.SellerNotifier, logger *slog.Logger, metrics *Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Gate{
		store:    store,
		oracle:   oracle,
		vault:    vault,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "key_release_gate")),
		metrics:  metrics,
	}
}

// ReleaseKey runs the ordered checks, cheapest and most decisive first, and
// short-circuits on the first failure. On success it returns the unsealed
// content key and locator; otherwise the error is a *Denial.
func (g *Gate) ReleaseKey(ctx context.Context, req ReleaseRequest) (*Release, error) {
	start := time.Now()
	rel, err := g.releaseKey(ctx, req)
	g.observe(ctx, req, time.Since(start), err)
	return rel, err
}

func (g *Gate) releaseKey(ctx context.Context, req ReleaseRequest) (*Release, error) {
	// 1. Registry status. Cheap and decisive: anything but active denies
	// immediately, carrying the stored reason when there is one.
	lic, err := g.store.GetLicense(ctx, req.LicenseID)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			return nil, deny(CodeNotActive, ClassSecurity, "license not found")
		}
		return nil, deny(CodeMisconfigured, ClassOperational, "registry read failed")
	}
	if lic.Status != license.StatusActive {
		return nil, deny(CodeNotActive, classifyNotActive(lic), notActiveReason(lic))
	}

	// 2. Software record: its licensing rules decide which later checks
	// apply, and it carries the sealed key.
	sw, err := g.store.GetSoftware(ctx, lic.SoftwareID)
	if err != nil {
		return nil, deny(CodeMisconfigured, ClassOperational, "software record missing for license")
	}

	// 3. Ledger ownership, the one potentially slow step.
	holder, err := g.oracle.ResolveOwner(ctx, lic.TokenID)
	switch {
	case errors.Is(err, ledger.ErrTokenNotFound):
		g.correctDrift(ctx, lic)
		return nil, deny(CodeNotFoundOnChain, ClassSecurity, "token burned on ledger")
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		return nil, deny(CodeTransientChainError, ClassTransient, "ledger unreachable")
	case err != nil:
		return nil, deny(CodeTransientChainError, ClassTransient, "ledger read failed")
	}
	if !strings.EqualFold(holder, req.RequesterAddress) {
		return nil, deny(CodeNotOwner, ClassSecurity, "requester is not the current owner")
	}

	// 4a. Locality, when the software locks it. Byte-exact compare against
	// the locality recorded at mint.
	if sw.LocalityLock != "" && req.Locality != lic.LocalityAtMint {
		return nil, deny(CodeLocalityMismatch, ClassSecurity, "request locality does not match mint locality")
	}

	// 4b. Device, when the software locks it. Binding normally happened out
	// of band at download time; a license that is still unbound here gets
	// the trust-on-first-use treatment (first device wins, CAS-guarded). A
	// different device is a mismatch, and a mismatch is the anti-sharing
	// trigger.
	if sw.RequireDeviceLock {
		if req.DeviceID == "" {
			return nil, deny(CodeDeviceMismatch, ClassSecurity, "no device identifier presented")
		}
		bound := lic.DeviceID
		if bound == "" {
			applied, current, err := g.store.BindDevice(ctx, lic.ID, req.DeviceID)
			if err != nil {
				return nil, deny(CodeMisconfigured, ClassOperational, "device binding write failed")
			}
			bound = current.DeviceID
			if applied {
				g.logger.InfoContext(ctx, "device bound on first release",
					slog.String("license_id", lic.ID),
				)
			}
		}
		if bound != req.DeviceID {
			g.enforceViolation(ctx, lic, req.DeviceID)
			return nil, deny(CodeDeviceMismatch, ClassSecurity, "presented device does not match bound device")
		}
	}

	// 5. Unseal and release.
	if len(sw.SealedKey) == 0 {
		return nil, deny(CodeMisconfigured, ClassOperational, "no key material stored for software")
	}
	key, err := g.vault.Open(sw.SealedKey)
	if err != nil {
		return nil, deny(CodeMisconfigured, ClassOperational, "stored key material unusable")
	}
	return &Release{Key: key, ContentLocator: sw.ContentLocator}, nil
}

// enforceViolation transitions the license to blocked and notifies the
// seller. The CAS guard means only one of several concurrent mismatching
// requests performs the transition; the rest already see blocked.
func (g *Gate) enforceViolation(ctx context.Context, lic *license.License, presentedDevice string) {
	now := time.Now().UTC()
	applied, _, err := g.store.Transition(ctx, lic.ID,
		[]license.Status{license.StatusActive},
		license.Mutation{
			To:             license.StatusBlocked,
			Reason:         ReasonDeviceViolation,
			SetViolationAt: &now,
		},
	)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to block license after device violation",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !applied {
		return
	}
	if g.metrics != nil {
		g.metrics.ViolationBlocks.Add(ctx, 1)
	}
	g.logger.WarnContext(ctx, "license blocked for device violation",
		slog.String("license_id", lic.ID),
		slog.String("software_id", lic.SoftwareID),
	)

	if err := g.notifier.NotifyViolation(ctx, notify.Violation{
		LicenseID:       lic.ID,
		SoftwareID:      lic.SoftwareID,
		Holder:          lic.Holder,
		BoundDevice:     lic.DeviceID,
		PresentedDevice: presentedDevice,
		Reason:          ReasonDeviceViolation,
		OccurredAt:      now,
	}); err != nil {
		g.logger.ErrorContext(ctx, "seller notification failed",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()),
		)
	}
}

// correctDrift converges the registry after the ledger reported the token
// gone while the registry still said active. Logged as an anomaly.
func (g *Gate) correctDrift(ctx context.Context, lic *license.License) {
	applied, _, err := g.store.Transition(ctx, lic.ID,
		[]license.Status{license.StatusActive},
		license.Mutation{To: license.StatusRevoked, Reason: "token burned on ledger"},
	)
	if err != nil {
		g.logger.ErrorContext(ctx, "drift correction failed",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if applied {
		if g.metrics != nil {
			g.metrics.DriftCorrections.Add(ctx, 1)
		}
		g.logger.WarnContext(ctx, "registry drift corrected: ledger token gone, license marked revoked",
			slog.String("license_id", lic.ID),
			slog.Int64("token_id", lic.TokenID),
		)
	}
}

// classifyNotActive decides whether a not_active denial is attributable to
// the requester. A blocked license with a recorded violation is a security
// outcome; everything else is operational state the buyer may legitimately
// ask about.
func classifyNotActive(lic *license.License) Class {
	if lic.Status == license.StatusBlocked && lic.LastViolationAt != nil {
		return ClassSecurity
	}
	if lic.Status == license.StatusRevoked {
		return ClassSecurity
	}
	return ClassOperational
}

func notActiveReason(lic *license.License) string {
	if lic.Reason != "" {
		return lic.Reason
	}
	return "license status is " + string(lic.Status)
}
