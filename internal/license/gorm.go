package license

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type softwareModel struct {
	ID                string    `gorm:"column:id;primaryKey"`
	Title             string    `gorm:"column:title"`
	SellerAddress     string    `gorm:"column:seller_address"`
	ContentLocator    string    `gorm:"column:content_locator"`
	SealedKey         []byte    `gorm:"column:sealed_key"`
	RequireDeviceLock bool      `gorm:"column:require_device_lock"`
	LocalityLock      string    `gorm:"column:locality_lock"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (softwareModel) TableName() string { return "software" }

type licenseModel struct {
	ID              string     `gorm:"column:id;primaryKey"`
	SoftwareID      string     `gorm:"column:software_id;index"`
	Holder          string     `gorm:"column:holder;index"`
	TokenID         int64      `gorm:"column:token_id;uniqueIndex"`
	Status          string     `gorm:"column:status"`
	DeviceID        string     `gorm:"column:device_id"`
	Reason          string     `gorm:"column:reason"`
	LocalityAtMint  string     `gorm:"column:locality_at_mint"`
	MintedAt        time.Time  `gorm:"column:minted_at"`
	LastViolationAt *time.Time `gorm:"column:last_violation_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

// GormStore persists the registry in postgres via gorm. All guarded writes
// use conditional UPDATEs and check RowsAffected, which gives the
// compare-and-set semantics the Store contract requires without explicit row
// locks.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the registry tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&softwareModel{}, &licenseModel{})
}

func (s *GormStore) CreateSoftware(ctx context.Context, sw *Software) error {
	return s.db.WithContext(ctx).Create(softwareToModel(sw)).Error
}

func (s *GormStore) GetSoftware(ctx context.Context, id string) (*Software, error) {
	var m softwareModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSoftwareNotFound
		}
		return nil, err
	}
	return softwareToDomain(&m), nil
}

func (s *GormStore) CreateLicense(ctx context.Context, lic *License) error {
	return s.db.WithContext(ctx).Create(licenseToModel(lic)).Error
}

func (s *GormStore) GetLicense(ctx context.Context, id string) (*License, error) {
	var m licenseModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return licenseToDomain(&m), nil
}

func (s *GormStore) GetLicenseByToken(ctx context.Context, tokenID int64) (*License, error) {
	var m licenseModel
	if err := s.db.WithContext(ctx).First(&m, "token_id = ?", tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return licenseToDomain(&m), nil
}

func (s *GormStore) ListLicensesByHolder(ctx context.Context, holder string) ([]*License, error) {
	var rows []licenseModel
	if err := s.db.WithContext(ctx).Where("holder = ?", CanonicalAddress(holder)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*License, len(rows))
	for i := range rows {
		out[i] = licenseToDomain(&rows[i])
	}
	return out, nil
}

func (s *GormStore) BindDevice(ctx context.Context, id, deviceID string) (bool, *License, error) {
	res := s.db.WithContext(ctx).
		Model(&licenseModel{}).
		Where("id = ? AND (device_id IS NULL OR device_id = '')", id).
		Updates(map[string]interface{}{
			"device_id":  deviceID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, nil, res.Error
	}
	current, err := s.GetLicense(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, current, nil
}

func (s *GormStore) Transition(ctx context.Context, id string, from []Status, mut Mutation) (bool, *License, error) {
	guards := make([]string, len(from))
	for i, st := range from {
		guards[i] = string(st)
	}

	updates := map[string]interface{}{
		"status":     string(mut.To),
		"reason":     mut.Reason,
		"updated_at": time.Now().UTC(),
	}
	if mut.SetViolationAt != nil {
		updates["last_violation_at"] = mut.SetViolationAt.UTC()
	}
	if mut.ClearViolation {
		updates["last_violation_at"] = nil
	}
	if mut.ClearDevice {
		updates["device_id"] = ""
	}

	res := s.db.WithContext(ctx).
		Model(&licenseModel{}).
		Where("id = ? AND status IN ?", id, guards).
		Updates(updates)
	if res.Error != nil {
		return false, nil, res.Error
	}
	current, err := s.GetLicense(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, current, nil
}

func softwareToModel(sw *Software) *softwareModel {
	return &softwareModel{
		ID:                sw.ID,
		Title:             sw.Title,
		SellerAddress:     sw.SellerAddress,
		ContentLocator:    sw.ContentLocator,
		SealedKey:         sw.SealedKey,
		RequireDeviceLock: sw.RequireDeviceLock,
		LocalityLock:      sw.LocalityLock,
		CreatedAt:         sw.CreatedAt,
	}
}

func softwareToDomain(m *softwareModel) *Software {
	return &Software{
		ID:                m.ID,
		Title:             m.Title,
		SellerAddress:     m.SellerAddress,
		ContentLocator:    m.ContentLocator,
		SealedKey:         m.SealedKey,
		RequireDeviceLock: m.RequireDeviceLock,
		LocalityLock:      m.LocalityLock,
		CreatedAt:         m.CreatedAt,
	}
}

func licenseToModel(lic *License) *licenseModel {
	return &licenseModel{
		ID:              lic.ID,
		SoftwareID:      lic.SoftwareID,
		Holder:          lic.Holder,
		TokenID:         lic.TokenID,
		Status:          string(lic.Status),
		DeviceID:        lic.DeviceID,
		Reason:          lic.Reason,
		LocalityAtMint:  lic.LocalityAtMint,
		MintedAt:        lic.MintedAt,
		LastViolationAt: lic.LastViolationAt,
		UpdatedAt:       lic.UpdatedAt,
	}
}

func licenseToDomain(m *licenseModel) *License {
	return &License{
		ID:              m.ID,
		SoftwareID:      m.SoftwareID,
		Holder:          m.Holder,
		TokenID:         m.TokenID,
		Status:          Status(m.Status),
		DeviceID:        m.DeviceID,
		Reason:          m.Reason,
		LocalityAtMint:  m.LocalityAtMint,
		MintedAt:        m.MintedAt,
		LastViolationAt: m.LastViolationAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
