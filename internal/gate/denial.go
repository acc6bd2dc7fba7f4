package gate

import (
	"errors"
	"fmt"
)

// Code identifies a gate outcome other than success.
type Code string

const (
	CodeNotActive           Code = "not_active"
	CodeNotOwner            Code = "not_owner"
	CodeDeviceMismatch      Code = "device_mismatch"
	CodeLocalityMismatch    Code = "locality_mismatch"
	CodeNotFoundOnChain     Code = "not_found_on_chain"
	CodeTransientChainError Code = "transient_chain_error"
	CodeMisconfigured       Code = "misconfigured"
)

// Class separates outcomes that say something about the requester from
// outcomes that say something about the infrastructure.
type Class string

const (
	// ClassSecurity: attributable to the requester's identity, device or
	// locality. Never retried automatically.
	ClassSecurity Class = "security"
	// ClassTransient: ledger timeout or network failure. Safe to retry
	// with backoff; mutates nothing.
	ClassTransient Class = "transient"
	// ClassOperational: the service itself cannot answer (missing key
	// material, missing records). Reveals nothing about the requester.
	ClassOperational Class = "operational"
)

// Denial is the gate's structured refusal.
type Denial struct {
	Code   Code
	Class  Class
	Reason string
}

func (d *Denial) Error() string {
	if d.Reason == "" {
		return fmt.Sprintf("key release denied: %s", d.Code)
	}
	return fmt.Sprintf("key release denied: %s (%s)", d.Code, d.Reason)
}

// Retryable reports whether a client may retry the same request unchanged.
func (d *Denial) Retryable() bool {
	return d.Class == ClassTransient
}

// AsDenial unwraps a *Denial from err, if present.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func deny(code Code, class Class, reason string) *Denial {
	return &Denial{Code: code, Class: class, Reason: reason}
}
