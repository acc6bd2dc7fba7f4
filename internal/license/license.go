// Package license holds the off-chain side of a buyer's grant: the license
// registry records, their lifecycle state machine, the trust-on-first-use
// device binding guard, and the privileged revocation/reactivation manager.
// The on-chain side lives in internal/ledger; the two are mirrored, never
// assumed identical.
package license

import (
	"errors"
	"strings"
	"time"
)

// Status is the off-chain lifecycle state of a license.
type Status string

const (
	StatusActive        Status = "active"
	StatusBlocked       Status = "blocked"
	StatusRevoked       Status = "revoked"
	StatusDeletedByUser Status = "deleted_by_user"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusRevoked, StatusDeletedByUser:
		return true
	}
	return false
}

// legalTransitions is the lifecycle table. Revoked is terminal: nothing
// leaves it. DeletedByUser is terminal off-chain as well; revocation of a
// soft-deleted license still burns the token and converges the record.
var legalTransitions = map[Status][]Status{
	StatusActive:        {StatusBlocked, StatusRevoked, StatusDeletedByUser},
	StatusBlocked:       {StatusActive, StatusRevoked},
	StatusDeletedByUser: {StatusRevoked},
	StatusRevoked:       {},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sentinel errors for registry and lifecycle operations.
var (
	ErrNotFound          = errors.New("license: not found")
	ErrSoftwareNotFound  = errors.New("license: software record not found")
	ErrDeviceMismatch    = errors.New("license: bound to a different device")
	ErrAlreadyRevoked    = errors.New("license: already revoked")
	ErrNotActive         = errors.New("license: not active")
	ErrInvalidTransition = errors.New("license: illegal status transition")
	ErrLocalityRejected  = errors.New("license: locality does not satisfy the software locality lock")
)

// License is the registry record of one minted, non-transferable grant. The
// registry identifier and the ledger token id are distinct and both required.
// Holder is immutable off-chain even though the ledger is the ultimate
// authority on ownership.
type License struct {
	ID              string     `json:"id"`
	SoftwareID      string     `json:"software_id"`
	Holder          string     `json:"holder"`
	TokenID         int64      `json:"token_id"`
	Status          Status     `json:"status"`
	DeviceID        string     `json:"device_id,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	LocalityAtMint  string     `json:"locality_at_mint,omitempty"`
	MintedAt        time.Time  `json:"minted_at"`
	LastViolationAt *time.Time `json:"last_violation_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Software is the artifact a license unlocks. SealedKey is the symmetric
// content key under the vault's master key; it is never stored or returned in
// the clear.
type Software struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	SellerAddress     string    `json:"seller_address"`
	ContentLocator    string    `json:"content_locator"`
	SealedKey         []byte    `json:"-"`
	RequireDeviceLock bool      `json:"require_device_lock"`
	LocalityLock      string    `json:"locality_lock,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CanonicalAddress lower-cases and trims a holder address. Stored and
// compared in canonical form only.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
