package license

import (
	"context"
	"fmt"
	"log/slog"
)

// BindingGuard enforces trust-on-first-use between a license and a device
// identifier. The device id is an opaque token generated client-side; the
// guard never interprets it beyond equality.
type BindingGuard struct {
	store  Store
	logger *slog.Logger
}

// NewBindingGuard creates a guard over the given registry store.
func NewBindingGuard(store Store, logger *slog.Logger) *BindingGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &BindingGuard{
		store:  store,
		logger: logger.With(slog.String("component", "binding_guard")),
	}
}

// Bind applies the trust-on-first-use rule:
//
//  1. software that does not require device locking: no-op success
//  2. empty stored device id: first use wins, exactly once (CAS; a losing
//     concurrent bind observes the winner's value and re-checks)
//  3. same device id: idempotent success
//  4. different device id: ErrDeviceMismatch — a distinguished violation
//     signal, a hard deny for anything downstream, never a retryable fault
//
// Binding is only meaningful while the license can still yield a key; a
// revoked license reports ErrAlreadyRevoked, any other non-active status
// reports ErrNotActive.
func (g *BindingGuard) Bind(ctx context.Context, licenseID, deviceID string) error {
	lic, err := g.store.GetLicense(ctx, licenseID)
	if err != nil {
		return err
	}
	switch lic.Status {
	case StatusActive:
	case StatusRevoked:
		return ErrAlreadyRevoked
	default:
		return fmt.Errorf("%w: status is %s", ErrNotActive, lic.Status)
	}

	sw, err := g.store.GetSoftware(ctx, lic.SoftwareID)
	if err != nil {
		return err
	}
	if !sw.RequireDeviceLock {
		return nil
	}

	if lic.DeviceID == deviceID && deviceID != "" {
		return nil
	}
	if lic.DeviceID != "" {
		return ErrDeviceMismatch
	}

	applied, current, err := g.store.BindDevice(ctx, licenseID, deviceID)
	if err != nil {
		return err
	}
	if applied {
		g.logger.InfoContext(ctx, "device bound to license",
			slog.String("license_id", licenseID),
		)
		return nil
	}

	// Lost the first-bind race: the winner's value is authoritative.
	if current.DeviceID == deviceID {
		return nil
	}
	return ErrDeviceMismatch
}
