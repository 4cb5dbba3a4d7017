package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/models"
)

// Directory is the user directory the matching core reads from. Stock and
// location counters are mutated only through its conditional primitives.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	GetDonor(ctx context.Context, id string) (*models.Donor, error)
	GetHospital(ctx context.Context, id string) (*models.Hospital, error)
	DonorsInRegion(ctx context.Context, region models.Region) ([]*models.Donor, error)
	HospitalsInRegion(ctx context.Context, region models.Region) ([]*models.Hospital, error)
	HospitalsByID(ctx context.Context, ids []string) ([]*models.Hospital, error)
	// LocatedHospitals lists every hospital that has a map pin.
	LocatedHospitals(ctx context.Context) ([]models.HospitalLocation, error)

	// AdjustStock adds delta to the hospital's units of group and returns the
	// new count. A change that would go below zero fails with InsufficientStock
	// and leaves the stock untouched.
	AdjustStock(ctx context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error)
	RecordDonation(ctx context.Context, donorID string, at time.Time) error
	// UpdateHospitalLocation stores loc and spends one self-service update,
	// returning how many remain.
	UpdateHospitalLocation(ctx context.Context, hospitalID string, loc models.Coord) (int, error)

	UpsertPatient(ctx context.Context, p *models.Patient) error
	UpsertDonor(ctx context.Context, d *models.Donor) error
	UpsertHospital(ctx context.Context, h *models.Hospital) error
}

type MemoryDirectory struct {
	mu        sync.RWMutex
	patients  map[string]*models.Patient
	donors    map[string]*models.Donor
	hospitals map[string]*models.Hospital
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		patients:  make(map[string]*models.Patient),
		donors:    make(map[string]*models.Donor),
		hospitals: make(map[string]*models.Hospital),
	}
}

func (m *MemoryDirectory) GetPatient(_ context.Context, id string) (*models.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	c := *p
	return &c, nil
}

func (m *MemoryDirectory) GetDonor(_ context.Context, id string) (*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donors[id]
	if !ok {
		return nil, apperr.NotFound("donor", id)
	}
	return copyDonor(d), nil
}

func (m *MemoryDirectory) GetHospital(_ context.Context, id string) (*models.Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hospitals[id]
	if !ok {
		return nil, apperr.NotFound("hospital", id)
	}
	return copyHospital(h), nil
}

func (m *MemoryDirectory) DonorsInRegion(_ context.Context, region models.Region) ([]*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Donor, 0)
	for _, d := range m.donors {
		if region.Contains(d.Region) {
			out = append(out, copyDonor(d))
		}
	}
	return out, nil
}

func (m *MemoryDirectory) HospitalsInRegion(_ context.Context, region models.Region) ([]*models.Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Hospital, 0)
	for _, h := range m.hospitals {
		if region.Contains(h.Region) {
			out = append(out, copyHospital(h))
		}
	}
	return out, nil
}

// HospitalsByID skips unknown ids.
func (m *MemoryDirectory) HospitalsByID(_ context.Context, ids []string) ([]*models.Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Hospital, 0, len(ids))
	for _, id := range ids {
		if h, ok := m.hospitals[id]; ok {
			out = append(out, copyHospital(h))
		}
	}
	return out, nil
}

func (m *MemoryDirectory) LocatedHospitals(_ context.Context) ([]models.HospitalLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.HospitalLocation, 0)
	for _, h := range m.hospitals {
		if h.Location != nil {
			out = append(out, models.HospitalLocation{HospitalID: h.ID, Loc: *h.Location})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HospitalID < out[j].HospitalID })
	return out, nil
}

func (m *MemoryDirectory) AdjustStock(_ context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hospitals[hospitalID]
	if !ok {
		return 0, apperr.NotFound("hospital", hospitalID)
	}
	cur := h.BloodStock[group]
	if cur+delta < 0 {
		return cur, apperr.InsufficientStock(hospitalID, string(group), cur, -delta)
	}
	if h.BloodStock == nil {
		h.BloodStock = make(map[models.BloodGroup]int)
	}
	h.BloodStock[group] = cur + delta
	return cur + delta, nil
}

func (m *MemoryDirectory) RecordDonation(_ context.Context, donorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donors[donorID]
	if !ok {
		return apperr.NotFound("donor", donorID)
	}
	d.LastDonation = &at
	return nil
}

func (m *MemoryDirectory) UpdateHospitalLocation(_ context.Context, hospitalID string, loc models.Coord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hospitals[hospitalID]
	if !ok {
		return 0, apperr.NotFound("hospital", hospitalID)
	}
	if h.LocationUpdatesLeft <= 0 {
		return 0, apperr.Validation("hospital %s has no location updates left", hospitalID)
	}
	h.LocationUpdatesLeft--
	h.Location = &loc
	return h.LocationUpdatesLeft, nil
}

func (m *MemoryDirectory) UpsertPatient(_ context.Context, p *models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.patients[p.ID] = &c
	return nil
}

func (m *MemoryDirectory) UpsertDonor(_ context.Context, d *models.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donors[d.ID] = copyDonor(d)
	return nil
}

func (m *MemoryDirectory) UpsertHospital(_ context.Context, h *models.Hospital) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hospitals[h.ID] = copyHospital(h)
	return nil
}

func copyDonor(d *models.Donor) *models.Donor {
	c := *d
	if d.LastDonation != nil {
		t := *d.LastDonation
		c.LastDonation = &t
	}
	return &c
}

func copyHospital(h *models.Hospital) *models.Hospital {
	c := *h
	if h.Location != nil {
		loc := *h.Location
		c.Location = &loc
	}
	c.BloodStock = make(map[models.BloodGroup]int, len(h.BloodStock))
	for g, n := range h.BloodStock {
		c.BloodStock[g] = n
	}
	return &c
}
