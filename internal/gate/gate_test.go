package gate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"keygate/internal/ledger"
	"keygate/internal/license"
	"keygate/internal/notify"
	"keygate/internal/security"
)

const (
	privilegedAccount = "0xseller"
	buyerAddress      = "0xABC"
)

// captureNotifier records delivered violations.
type captureNotifier struct {
	mu         sync.Mutex
	violations []notify.Violation
}

func (c *captureNotifier) NotifyViolation(ctx context.Context, v notify.Violation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, v)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.violations)
}

type GateTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *license.MemoryStore
	contract *ledger.Contract
	vault    *security.Vault
	notifier *captureNotifier
	gate     *Gate

	contentKey []byte
}

func (s *GateTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = license.NewMemoryStore()
	s.contract = ledger.NewContract(privilegedAccount)
	s.notifier = &captureNotifier{}

	var err error
	s.vault, err = security.NewVault([]byte("a-sufficiently-long-master-secret"))
	require.NoError(s.T(), err)

	s.contentKey = []byte("0123456789abcdef0123456789abcdef")
	sealed, err := s.vault.Seal(s.contentKey)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.CreateSoftware(s.ctx, &license.Software{
		ID:                "sw-locked",
		Title:             "Locked App",
		ContentLocator:    "ipfs://locked-app",
		SealedKey:         sealed,
		RequireDeviceLock: true,
	}))
	require.NoError(s.T(), s.store.CreateSoftware(s.ctx, &license.Software{
		ID:             "sw-open",
		Title:          "Open App",
		ContentLocator: "ipfs://open-app",
		SealedKey:      sealed,
	}))
	require.NoError(s.T(), s.store.CreateSoftware(s.ctx, &license.Software{
		ID:             "sw-local",
		Title:          "Region Locked App",
		ContentLocator: "ipfs://local-app",
		SealedKey:      sealed,
		LocalityLock:   "IQ-BGW",
	}))

	client := ledger.NewEmbeddedClient(s.contract, privilegedAccount)
	oracle := ledger.NewOracle(client, time.Second, nil)
	s.gate = New(s.store, oracle, s.vault, s.notifier, nil, nil)
}

// seed mints a token for the buyer and creates the matching registry record.
func (s *GateTestSuite) seed(id, softwareID, locality, deviceID string, status license.Status) *license.License {
	sw, err := s.store.GetSoftware(s.ctx, softwareID)
	require.NoError(s.T(), err)
	tokenID, err := s.contract.Mint(privilegedAccount, buyerAddress, sw.ContentLocator, sw.LocalityLock)
	require.NoError(s.T(), err)

	now := time.Now().UTC()
	lic := &license.License{
		ID:             id,
		SoftwareID:     softwareID,
		Holder:         license.CanonicalAddress(buyerAddress),
		TokenID:        tokenID,
		Status:         status,
		DeviceID:       deviceID,
		LocalityAtMint: locality,
		MintedAt:       now,
		UpdatedAt:      now,
	}
	require.NoError(s.T(), s.store.CreateLicense(s.ctx, lic))
	return lic
}

func (s *GateTestSuite) release(id, device, requester, locality string) (*Release, error) {
	return s.gate.ReleaseKey(s.ctx, ReleaseRequest{
		LicenseID:        id,
		DeviceID:         device,
		RequesterAddress: requester,
		Locality:         locality,
	})
}

func (s *GateTestSuite) TestReleaseSuccess() {
	s.seed("lic-1", "sw-locked", "", "dev-1", license.StatusActive)

	rel, err := s.release("lic-1", "dev-1", buyerAddress, "")
	s.Require().NoError(err)
	s.Equal(s.contentKey, rel.Key)
	s.Equal("ipfs://locked-app", rel.ContentLocator)
}

func (s *GateTestSuite) TestOwnerCompareIsCaseInsensitive() {
	s.seed("lic-1", "sw-open", "", "", license.StatusActive)

	_, err := s.release("lic-1", "dev-1", "0xabc", "")
	s.Require().NoError(err)
	_, err = s.release("lic-1", "dev-1", "0xAbC", "")
	s.Require().NoError(err)
}

func (s *GateTestSuite) TestNotActiveDenials() {
	tests := []struct {
		name      string
		status    license.Status
		reason    string
		violation bool
		wantClass Class
	}{
		{name: "blocked by seller", status: license.StatusBlocked, reason: "payment dispute", wantClass: ClassOperational},
		{name: "blocked for violation", status: license.StatusBlocked, reason: ReasonDeviceViolation, violation: true, wantClass: ClassSecurity},
		{name: "revoked", status: license.StatusRevoked, reason: "seller revoked", wantClass: ClassSecurity},
		{name: "deleted by user", status: license.StatusDeletedByUser, wantClass: ClassOperational},
	}

	for i, tt := range tests {
		s.Run(tt.name, func() {
			id := fmt.Sprintf("lic-%d", i)
			lic := s.seed(id, "sw-open", "", "", tt.status)
			if tt.reason != "" || tt.violation {
				mut := license.Mutation{To: tt.status, Reason: tt.reason}
				if tt.violation {
					at := time.Now().UTC()
					mut.SetViolationAt = &at
				}
				_, _, err := s.store.Transition(s.ctx, lic.ID, []license.Status{tt.status}, mut)
				s.Require().NoError(err)
			}

			_, err := s.release(id, "dev-1", buyerAddress, "")
			d, ok := AsDenial(err)
			s.Require().True(ok)
			s.Equal(CodeNotActive, d.Code)
			s.Equal(tt.wantClass, d.Class)
			if tt.reason != "" {
				s.Equal(tt.reason, d.Reason, "denial carries the stored reason")
			}
		})
	}
}

func (s *GateTestSuite) TestUnknownLicenseDenies() {
	_, err := s.release("missing", "dev-1", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeNotActive, d.Code)
}

func (s *GateTestSuite) TestNotOwnerDenies() {
	s.seed("lic-1", "sw-open", "", "", license.StatusActive)

	_, err := s.release("lic-1", "dev-1", "0xDEF", "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeNotOwner, d.Code)
	s.Equal(ClassSecurity, d.Class)
	s.False(d.Retryable())

	// A wrong owner is not a violation: the license stays active.
	lic, err := s.store.GetLicense(s.ctx, "lic-1")
	s.Require().NoError(err)
	s.Equal(license.StatusActive, lic.Status)
	s.Zero(s.notifier.count())
}

func (s *GateTestSuite) TestDriftCorrection() {
	lic := s.seed("lic-1", "sw-open", "", "", license.StatusActive)
	s.Require().NoError(s.contract.Revoke(privilegedAccount, lic.TokenID))

	_, err := s.release("lic-1", "dev-1", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeNotFoundOnChain, d.Code)
	s.Equal(ClassSecurity, d.Class)

	// The registry self-corrected to revoked, not active.
	stored, err := s.store.GetLicense(s.ctx, "lic-1")
	s.Require().NoError(err)
	s.Equal(license.StatusRevoked, stored.Status)

	// Subsequent calls deny on registry state alone.
	_, err = s.release("lic-1", "dev-1", buyerAddress, "")
	d, ok = AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeNotActive, d.Code)
}

func (s *GateTestSuite) TestTransientLedgerFailure() {
	lic := s.seed("lic-1", "sw-open", "", "", license.StatusActive)

	oracle := ledger.NewOracle(&unavailableClient{}, time.Second, nil)
	gate := New(s.store, oracle, s.vault, s.notifier, nil, nil)

	_, err := gate.ReleaseKey(s.ctx, ReleaseRequest{
		LicenseID: lic.ID, DeviceID: "dev-1", RequesterAddress: buyerAddress,
	})
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeTransientChainError, d.Code)
	s.Equal(ClassTransient, d.Class)
	s.True(d.Retryable())

	// Transient failures never mutate license status.
	stored, err := s.store.GetLicense(s.ctx, lic.ID)
	s.Require().NoError(err)
	s.Equal(license.StatusActive, stored.Status)
}

func (s *GateTestSuite) TestLocalityMismatch() {
	s.seed("lic-1", "sw-local", "IQ-BGW", "", license.StatusActive)

	rel, err := s.release("lic-1", "dev-1", buyerAddress, "IQ-BGW")
	s.Require().NoError(err)
	s.NotNil(rel)

	_, err = s.release("lic-1", "dev-1", buyerAddress, "IQ-NJF")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeLocalityMismatch, d.Code)
	s.Equal(ClassSecurity, d.Class)

	// Byte-exact, case-sensitive compare.
	_, err = s.release("lic-1", "dev-1", buyerAddress, "iq-bgw")
	d, ok = AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeLocalityMismatch, d.Code)
}

// TestLocalityAgreesWithLedger pins the gate's locality answer to the
// token's on-chain lock: for a license issued through the manager the two
// always accept and reject the same request.
func (s *GateTestSuite) TestLocalityAgreesWithLedger() {
	client := ledger.NewEmbeddedClient(s.contract, privilegedAccount)
	mgr := license.NewManager(s.store, client, nil)

	// A locality the token lock would not encode cannot be issued at all.
	_, err := mgr.Issue(s.ctx, "sw-local", buyerAddress, "IQ-NJF")
	s.Require().ErrorIs(err, license.ErrLocalityRejected)

	lic, err := mgr.Issue(s.ctx, "sw-local", buyerAddress, "IQ-BGW")
	s.Require().NoError(err)

	onChain, err := s.contract.Validate(lic.TokenID, "IQ-BGW")
	s.Require().NoError(err)
	s.True(onChain)
	_, err = s.release(lic.ID, "dev-1", buyerAddress, "IQ-BGW")
	s.Require().NoError(err)

	onChain, err = s.contract.Validate(lic.TokenID, "IQ-NJF")
	s.Require().NoError(err)
	s.False(onChain)
	_, err = s.release(lic.ID, "dev-1", buyerAddress, "IQ-NJF")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeLocalityMismatch, d.Code)
}

// TestAntiSharingScenario walks the end-to-end scenario: an unbound license
// releases to the first device and binds it; a second device is a mismatch
// that blocks the license and notifies the seller.
func (s *GateTestSuite) TestAntiSharingScenario() {
	s.seed("lic-1", "sw-locked", "", "", license.StatusActive)

	// First release on dev1 succeeds and fixes the binding.
	rel, err := s.release("lic-1", "dev1", buyerAddress, "")
	s.Require().NoError(err)
	s.Equal(s.contentKey, rel.Key)

	stored, err := s.store.GetLicense(s.ctx, "lic-1")
	s.Require().NoError(err)
	s.Equal("dev1", stored.DeviceID)

	// Binding dev1 afterwards is a no-op success.
	guard := license.NewBindingGuard(s.store, nil)
	s.Require().NoError(guard.Bind(s.ctx, "lic-1", "dev1"))

	// dev2 is a mismatch: denied, blocked, seller notified.
	_, err = s.release("lic-1", "dev2", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeDeviceMismatch, d.Code)
	s.Equal(ClassSecurity, d.Class)

	stored, err = s.store.GetLicense(s.ctx, "lic-1")
	s.Require().NoError(err)
	s.Equal(license.StatusBlocked, stored.Status)
	s.Contains(stored.Reason, "device violation")
	s.NotNil(stored.LastViolationAt)
	s.Equal("dev1", stored.DeviceID, "the binding itself survives the block")

	s.Require().Equal(1, s.notifier.count())
	v := s.notifier.violations[0]
	s.Equal("lic-1", v.LicenseID)
	s.Equal("dev1", v.BoundDevice)
	s.Equal("dev2", v.PresentedDevice)

	// dev1 is locked out too now: the license is blocked.
	_, err = s.release("lic-1", "dev1", buyerAddress, "")
	d, ok = AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeNotActive, d.Code)
	s.Equal(ClassSecurity, d.Class, "violation block is attributable to the requester")
}

func (s *GateTestSuite) TestMissingDeviceIdentifier() {
	s.seed("lic-1", "sw-locked", "", "dev-1", license.StatusActive)

	_, err := s.release("lic-1", "", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeDeviceMismatch, d.Code)
}

func (s *GateTestSuite) TestReleaseIsRepeatable() {
	s.seed("lic-1", "sw-locked", "", "dev-1", license.StatusActive)

	// With unchanged backing state the outcome is identical every time:
	// no hidden caching drift in either direction.
	for i := 0; i < 5; i++ {
		rel, err := s.release("lic-1", "dev-1", buyerAddress, "")
		s.Require().NoError(err)
		s.Equal(s.contentKey, rel.Key)
	}
	for i := 0; i < 3; i++ {
		_, err := s.release("lic-1", "dev-1", "0xOTHER", "")
		d, ok := AsDenial(err)
		s.Require().True(ok)
		s.Equal(CodeNotOwner, d.Code)
	}
}

// TestRevokedIsTerminalThroughGateAndManager exercises the property that no
// call sequence after revocation ever yields a key again.
func (s *GateTestSuite) TestRevokedIsTerminalThroughGateAndManager() {
	lic := s.seed("lic-1", "sw-open", "", "", license.StatusActive)

	client := ledger.NewEmbeddedClient(s.contract, privilegedAccount)
	mgr := license.NewManager(s.store, client, nil)
	_, err := mgr.Revoke(s.ctx, lic.ID)
	s.Require().NoError(err)

	_, err = mgr.Reactivate(s.ctx, lic.ID)
	s.Require().ErrorIs(err, license.ErrAlreadyRevoked)

	for i := 0; i < 3; i++ {
		_, err = s.release("lic-1", "dev-1", buyerAddress, "")
		d, ok := AsDenial(err)
		s.Require().True(ok)
		s.Equal(CodeNotActive, d.Code)
		s.Equal("seller revoked", d.Reason)
	}
}

func (s *GateTestSuite) TestMissingSoftwareIsOperational() {
	now := time.Now().UTC()
	s.Require().NoError(s.store.CreateLicense(s.ctx, &license.License{
		ID: "lic-orphan", SoftwareID: "sw-gone", Holder: "0xabc",
		TokenID: 99, Status: license.StatusActive, MintedAt: now, UpdatedAt: now,
	}))

	_, err := s.release("lic-orphan", "dev-1", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeMisconfigured, d.Code)
	s.Equal(ClassOperational, d.Class)
}

func (s *GateTestSuite) TestMissingKeyMaterialIsOperational() {
	s.Require().NoError(s.store.CreateSoftware(s.ctx, &license.Software{
		ID: "sw-nokey", ContentLocator: "ipfs://x",
	}))
	s.seed("lic-1", "sw-nokey", "", "", license.StatusActive)

	_, err := s.release("lic-1", "dev-1", buyerAddress, "")
	d, ok := AsDenial(err)
	s.Require().True(ok)
	s.Equal(CodeMisconfigured, d.Code)
	s.Equal(ClassOperational, d.Class)
}

func TestGateTestSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}

// unavailableClient always reports the ledger as unreachable.
type unavailableClient struct {
	ledger.Client
}

func (u *unavailableClient) OwnerOf(ctx context.Context, tokenID int64) (string, error) {
	return "", fmt.Errorf("%w: connection refused", ledger.ErrLedgerUnavailable)
}

func TestDenialErrorString(t *testing.T) {
	d := deny(CodeNotOwner, ClassSecurity, "requester is not the current owner")
	assert.Contains(t, d.Error(), "not_owner")
	assert.Contains(t, d.Error(), "requester is not the current owner")

	bare := deny(CodeMisconfigured, ClassOperational, "")
	assert.Contains(t, bare.Error(), "misconfigured")
}
