package license

import (
	"context"
	"time"
)

// Mutation is the target state of a compare-and-set status transition. The
// From set is the guard: the write applies only while the stored status is
// one of them.
type Mutation struct {
	To Status
	// Reason replaces the stored reason; empty clears it.
	Reason string
	// SetViolationAt, when non-nil, stamps the violation timestamp.
	SetViolationAt *time.Time
	// ClearViolation wipes the violation timestamp.
	ClearViolation bool
	// ClearDevice wipes the device binding.
	ClearDevice bool
}

// Store is the persistence port for the registry. Every mutating method is a
// compare-and-set against the current row so concurrent requests cannot both
// act on stale state; no global lock is required.
type Store interface {
	CreateSoftware(ctx context.Context, sw *Software) error
	GetSoftware(ctx context.Context, id string) (*Software, error)

	CreateLicense(ctx context.Context, lic *License) error
	GetLicense(ctx context.Context, id string) (*License, error)
	GetLicenseByToken(ctx context.Context, tokenID int64) (*License, error)
	ListLicensesByHolder(ctx context.Context, holder string) ([]*License, error)

	// BindDevice sets the device id if and only if it is still empty
	// (first use wins, exactly once). applied is false when another writer
	// got there first; current always carries the row as it now stands so
	// the caller can observe the winner's value.
	BindDevice(ctx context.Context, id, deviceID string) (applied bool, current *License, err error)

	// Transition applies mut while the stored status is in from. applied
	// is false when the guard no longer holds; current carries the row as
	// it now stands.
	Transition(ctx context.Context, id string, from []Status, mut Mutation) (applied bool, current *License, err error)
}
