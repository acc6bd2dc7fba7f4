package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	privileged = "0xPRIVILEGED"
	buyer      = "0xABC"
	stranger   = "0xDEF"
)

func TestContractMint(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		holder  string
		wantErr error
	}{
		{name: "privileged caller mints", caller: privileged, holder: buyer},
		{name: "caller address is case-insensitive", caller: "0xprivileged", holder: buyer},
		{name: "non-privileged caller rejected", caller: stranger, holder: buyer, wantErr: ErrNotAuthorized},
		{name: "zero holder rejected", caller: privileged, holder: ZeroAddress, wantErr: ErrZeroHolder},
		{name: "empty holder rejected", caller: privileged, holder: "", wantErr: ErrZeroHolder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContract(privileged)
			id, err := c.Mint(tt.caller, tt.holder, "ipfs://meta", "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)

			holder, err := c.OwnerOf(id)
			require.NoError(t, err)
			assert.Equal(t, CanonicalAddress(tt.holder), holder)
		})
	}
}

func TestContractMintSequentialIDs(t *testing.T) {
	c := NewContract(privileged)
	for want := int64(1); want <= 5; want++ {
		id, err := c.Mint(privileged, buyer, "", "")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestContractTransferGuard(t *testing.T) {
	c := NewContract(privileged)
	id, err := c.Mint(privileged, buyer, "", "")
	require.NoError(t, err)

	// Any non-burn destination must be rejected, even for the privileged
	// account. Holdership is a one-time grant.
	assert.ErrorIs(t, c.TransferOwnership(privileged, id, stranger), ErrTransferForbidden)
	assert.ErrorIs(t, c.TransferOwnership(buyer, id, stranger), ErrTransferForbidden)

	holder, err := c.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, CanonicalAddress(buyer), holder)

	// Transfer to the burn sentinel is a revoke, privileged only.
	assert.ErrorIs(t, c.TransferOwnership(buyer, id, ZeroAddress), ErrNotAuthorized)
	require.NoError(t, c.TransferOwnership(privileged, id, ZeroAddress))

	_, err = c.OwnerOf(id)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestContractSetBlocked(t *testing.T) {
	c := NewContract(privileged)
	id, err := c.Mint(privileged, buyer, "", "")
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetBlocked(stranger, id, true), ErrNotAuthorized)
	assert.ErrorIs(t, c.SetBlocked(privileged, 999, true), ErrTokenNotFound)

	require.NoError(t, c.SetBlocked(privileged, id, true))
	st, err := c.State(id)
	require.NoError(t, err)
	assert.True(t, st.Blocked)

	require.NoError(t, c.SetBlocked(privileged, id, false))
	st, err = c.State(id)
	require.NoError(t, err)
	assert.False(t, st.Blocked)
}

func TestContractRevokeIsTerminal(t *testing.T) {
	c := NewContract(privileged)
	id, err := c.Mint(privileged, buyer, "", "")
	require.NoError(t, err)

	require.NoError(t, c.Revoke(privileged, id))

	// Every subsequent operation sees the token as nonexistent.
	assert.ErrorIs(t, c.Revoke(privileged, id), ErrTokenNotFound)
	assert.ErrorIs(t, c.SetBlocked(privileged, id, true), ErrTokenNotFound)
	_, err = c.OwnerOf(id)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = c.Validate(id, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestContractValidate(t *testing.T) {
	tests := []struct {
		name     string
		lock     string
		locality string
		blocked  bool
		want     bool
	}{
		{name: "unrestricted token", lock: "", locality: "anything", want: true},
		{name: "locality matches", lock: "IQ-BGW", locality: "IQ-BGW", want: true},
		{name: "locality differs", lock: "IQ-BGW", locality: "IQ-NJF", want: false},
		{name: "locality compare is case-sensitive", lock: "IQ-BGW", locality: "iq-bgw", want: false},
		{name: "blocked token always invalid", lock: "", locality: "", blocked: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContract(privileged)
			id, err := c.Mint(privileged, buyer, "", tt.lock)
			require.NoError(t, err)
			if tt.blocked {
				require.NoError(t, c.SetBlocked(privileged, id, true))
			}

			ok, err := c.Validate(id, tt.locality)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestContractEventLog(t *testing.T) {
	c := NewContract(privileged)
	id, err := c.Mint(privileged, buyer, "", "")
	require.NoError(t, err)
	require.NoError(t, c.SetBlocked(privileged, id, true))
	_, err = c.Validate(id, "")
	require.NoError(t, err)
	require.NoError(t, c.Revoke(privileged, id))

	events := c.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventMinted, events[0].Kind)
	assert.Equal(t, EventStatusChanged, events[1].Kind)
	assert.Equal(t, EventValidated, events[2].Kind)
	assert.Equal(t, EventRevoked, events[3].Kind)
	for _, ev := range events {
		assert.Equal(t, id, ev.TokenID)
		assert.False(t, ev.At.IsZero())
	}
}
