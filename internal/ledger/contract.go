package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ZeroAddress is the burn sentinel. A token whose holder is the zero address
// does not exist as far as ownership is concerned.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Sentinel errors for contract operations.
var (
	// ErrNotAuthorized is returned when a mutating call is made by an
	// account other than the contract's privileged account.
	ErrNotAuthorized = errors.New("ledger: caller is not the privileged account")

	// ErrTokenNotFound is returned for tokens that were never minted or
	// have been burned. This is a meaningful signal, distinct from
	// ErrLedgerUnavailable.
	ErrTokenNotFound = errors.New("ledger: token does not exist")

	// ErrTransferForbidden is returned for any ownership transfer whose
	// destination is not the burn sentinel. Tokens are soulbound.
	ErrTransferForbidden = errors.New("ledger: token is non-transferable")

	// ErrZeroHolder is returned when minting to the zero address.
	ErrZeroHolder = errors.New("ledger: cannot mint to the zero address")
)

// TokenState is a snapshot of one token's on-ledger state.
type TokenState struct {
	TokenID         int64  `json:"token_id"`
	Holder          string `json:"holder"`
	Blocked         bool   `json:"blocked"`
	LocalityLock    string `json:"locality_lock,omitempty"`
	MetadataLocator string `json:"metadata_locator,omitempty"`
}

// EventKind classifies contract audit events.
type EventKind string

const (
	EventMinted        EventKind = "minted"
	EventStatusChanged EventKind = "status_changed"
	EventRevoked       EventKind = "revoked"
	EventValidated     EventKind = "validated"
)

// Event is one entry in the contract's append-only audit log.
type Event struct {
	Kind    EventKind `json:"kind"`
	TokenID int64     `json:"token_id"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Contract is the soulbound license token state machine. Per token the legal
// transitions are:
//
//	nonexistent -> minted(holder, blocked=false, lock="") -> [blocked <-> unblocked] -> burned (terminal)
//
// Holdership is a one-time grant: the only legal holder transition after mint
// is to the zero address. Mutations require the privileged account.
type Contract struct {
	mu         sync.Mutex
	privileged string
	nextID     int64
	tokens     map[int64]*TokenState
	events     []Event
}

// NewContract creates a contract whose mutating operations are restricted to
// the given privileged account address.
func NewContract(privileged string) *Contract {
	return &Contract{
		privileged: CanonicalAddress(privileged),
		nextID:     1,
		tokens:     make(map[int64]*TokenState),
	}
}

// CanonicalAddress lower-cases and trims an account address. Addresses are
// compared case-insensitively everywhere; canonicalize once at the boundary.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Mint assigns the next sequential token id to holder. The locality lock is
// optional; an empty string leaves the token unrestricted.
func (c *Contract) Mint(caller, holder, metadataLocator, localityLock string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if CanonicalAddress(caller) != c.privileged {
		return 0, ErrNotAuthorized
	}
	holder = CanonicalAddress(holder)
	if holder == "" || holder == ZeroAddress {
		return 0, ErrZeroHolder
	}

	id := c.nextID
	c.nextID++
	c.tokens[id] = &TokenState{
		TokenID:         id,
		Holder:          holder,
		LocalityLock:    localityLock,
		MetadataLocator: metadataLocator,
	}
	c.appendEvent(EventMinted, id, "holder="+holder)
	return id, nil
}

// SetBlocked toggles the block flag on an existing token.
func (c *Contract) SetBlocked(caller string, tokenID int64, blocked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if CanonicalAddress(caller) != c.privileged {
		return ErrNotAuthorized
	}
	tok, err := c.lookup(tokenID)
	if err != nil {
		return err
	}
	tok.Blocked = blocked
	c.appendEvent(EventStatusChanged, tokenID, fmt.Sprintf("blocked=%t", blocked))
	return nil
}

// Revoke burns the token: the holder becomes the zero address, permanently.
func (c *Contract) Revoke(caller string, tokenID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if CanonicalAddress(caller) != c.privileged {
		return ErrNotAuthorized
	}
	tok, err := c.lookup(tokenID)
	if err != nil {
		return err
	}
	tok.Holder = ZeroAddress
	c.appendEvent(EventRevoked, tokenID, "")
	return nil
}

// TransferOwnership rejects every destination except the burn sentinel. The
// soulbound rule is a guarded transition on a two-state (minted/burned)
// machine, not a type hierarchy.
func (c *Contract) TransferOwnership(caller string, tokenID int64, to string) error {
	if CanonicalAddress(to) != ZeroAddress {
		return ErrTransferForbidden
	}
	return c.Revoke(caller, tokenID)
}

// Validate reports whether the token is currently acceptable: not blocked, and
// the supplied locality matches the lock byte-exactly when a lock is set.
// Read-only for state, but records a validation-observed event for audit.
func (c *Contract) Validate(tokenID int64, locality string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.lookup(tokenID)
	if err != nil {
		return false, err
	}

	ok := true
	switch {
	case tok.Blocked:
		ok = false
	case tok.LocalityLock != "" && tok.LocalityLock != locality:
		ok = false
	}
	c.appendEvent(EventValidated, tokenID, fmt.Sprintf("ok=%t", ok))
	return ok, nil
}

// OwnerOf returns the current holder. Burned and never-minted tokens are both
// reported as ErrTokenNotFound.
func (c *Contract) OwnerOf(tokenID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.lookup(tokenID)
	if err != nil {
		return "", err
	}
	return tok.Holder, nil
}

// State returns a copy of the token's full state.
func (c *Contract) State(tokenID int64) (TokenState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.lookup(tokenID)
	if err != nil {
		return TokenState{}, err
	}
	return *tok, nil
}

// Events returns a copy of the audit log.
func (c *Contract) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// lookup must be called with c.mu held.
func (c *Contract) lookup(tokenID int64) (*TokenState, error) {
	tok, ok := c.tokens[tokenID]
	if !ok || tok.Holder == ZeroAddress {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

func (c *Contract) appendEvent(kind EventKind, tokenID int64, detail string) {
	c.events = append(c.events, Event{Kind: kind, TokenID: tokenID, Detail: detail, At: time.Now().UTC()})
}
