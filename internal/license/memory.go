package license

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store with the same
// compare-and-set semantics as the gorm adapter. It backs tests and local
// development without a database.
type MemoryStore struct {
	mu       sync.Mutex
	licenses map[string]*License
	software map[string]*Software
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]*License),
		software: make(map[string]*Software),
	}
}

func (s *MemoryStore) CreateSoftware(ctx context.Context, sw *Software) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sw
	s.software[sw.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSoftware(ctx context.Context, id string) (*Software, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.software[id]
	if !ok {
		return nil, ErrSoftwareNotFound
	}
	cp := *sw
	return &cp, nil
}

func (s *MemoryStore) CreateLicense(ctx context.Context, lic *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lic
	s.licenses[lic.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLicense(ctx context.Context, id string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

func (s *MemoryStore) GetLicenseByToken(ctx context.Context, tokenID int64) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.TokenID == tokenID {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListLicensesByHolder(ctx context.Context, holder string) ([]*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holder = CanonicalAddress(holder)
	var out []*License
	for _, lic := range s.licenses {
		if lic.Holder == holder {
			cp := *lic
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) BindDevice(ctx context.Context, id, deviceID string) (bool, *License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[id]
	if !ok {
		return false, nil, ErrNotFound
	}
	if lic.DeviceID != "" {
		cp := *lic
		return false, &cp, nil
	}
	lic.DeviceID = deviceID
	lic.UpdatedAt = time.Now().UTC()
	cp := *lic
	return true, &cp, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from []Status, mut Mutation) (bool, *License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[id]
	if !ok {
		return false, nil, ErrNotFound
	}

	guarded := false
	for _, st := range from {
		if lic.Status == st {
			guarded = true
			break
		}
	}
	if !guarded {
		cp := *lic
		return false, &cp, nil
	}

	lic.Status = mut.To
	lic.Reason = mut.Reason
	if mut.SetViolationAt != nil {
		at := mut.SetViolationAt.UTC()
		lic.LastViolationAt = &at
	}
	if mut.ClearViolation {
		lic.LastViolationAt = nil
	}
	if mut.ClearDevice {
		lic.DeviceID = ""
	}
	lic.UpdatedAt = time.Now().UTC()
	cp := *lic
	return true, &cp, nil
}
