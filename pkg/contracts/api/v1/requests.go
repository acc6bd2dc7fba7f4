// Package v1 defines the request and response payloads of the public HTTP
// API. These types are the wire contract shared with client SDKs.
package v1

import "time"

// ReleaseKeyRequest asks the gate to release the content decryption key for
// a license. The requester proves ownership with their ledger address; the
// device identifier and locality are checked against the license policy.
type ReleaseKeyRequest struct {
	RequesterAddress string `json:"requesterAddress" validate:"required"`
	DeviceID         string `json:"deviceId,omitempty"`
	Locality         string `json:"locality,omitempty"`
}

// ReleaseKeyResponse carries the released key material. Key is base64
// encoded raw key bytes.
type ReleaseKeyResponse struct {
	Key            string `json:"key"`
	ContentLocator string `json:"contentLocator"`
}

// BindDeviceRequest fixes a device binding ahead of the first release.
type BindDeviceRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

// IssueLicenseRequest mints a ledger token and creates the registry record
// for a new buyer. Privileged operation.
type IssueLicenseRequest struct {
	SoftwareID    string `json:"softwareId" validate:"required"`
	HolderAddress string `json:"holderAddress" validate:"required"`
	Locality      string `json:"locality,omitempty"`
}

// BlockLicenseRequest blocks an active license with a seller-supplied reason.
type BlockLicenseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateSoftwareRequest registers a software listing. ContentKey is the
// base64 encoded raw content key; it is sealed at rest and never returned.
type CreateSoftwareRequest struct {
	ID                string `json:"id" validate:"required"`
	Title             string `json:"title" validate:"required"`
	SellerAddress     string `json:"sellerAddress" validate:"required"`
	ContentLocator    string `json:"contentLocator" validate:"required"`
	ContentKey        string `json:"contentKey" validate:"required,base64"`
	RequireDeviceLock bool   `json:"requireDeviceLock"`
	LocalityLock      string `json:"localityLock,omitempty"`
}

// AdminTokenRequest asks for a privileged API token.
type AdminTokenRequest struct {
	Subject string `json:"subject" validate:"required"`
	Secret  string `json:"secret" validate:"required"`
}

// AdminTokenResponse carries the minted bearer token.
type AdminTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LicenseResponse is the API view of a license registry record.
type LicenseResponse struct {
	ID              string     `json:"id"`
	SoftwareID      string     `json:"softwareId"`
	Holder          string     `json:"holder"`
	TokenID         int64      `json:"tokenId"`
	Status          string     `json:"status"`
	DeviceID        string     `json:"deviceId,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	LocalityAtMint  string     `json:"localityAtMint,omitempty"`
	MintedAt        time.Time  `json:"mintedAt"`
	LastViolationAt *time.Time `json:"lastViolationAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// SoftwareResponse is the API view of a software listing. Key material is
// deliberately absent.
type SoftwareResponse struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	SellerAddress     string    `json:"sellerAddress"`
	ContentLocator    string    `json:"contentLocator"`
	RequireDeviceLock bool      `json:"requireDeviceLock"`
	LocalityLock      string    `json:"localityLock,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// HealthResponse reports service liveness and dependency status.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
