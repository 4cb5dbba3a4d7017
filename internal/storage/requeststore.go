package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/models"
)

// RequestStore defines persistence operations for blood requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.BloodRequest) error
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
	// UpdateRequest writes the mutable fields of r only if the stored status is
	// still expected. A mismatch is a Conflict, a missing row is NotFound.
	UpdateRequest(ctx context.Context, r *models.BloodRequest, expected models.Status) error
	ListByRequester(ctx context.Context, requesterID string) ([]*models.BloodRequest, error)
	ListByTarget(ctx context.Context, kind models.PartyKind, targetID string) ([]*models.BloodRequest, error)
	ListPendingBroadcasts(ctx context.Context, state string) ([]*models.BloodRequest, error)
	// ListByDonor returns requests a donor has been assigned to.
	ListByDonor(ctx context.Context, donorID string) ([]*models.BloodRequest, error)
	// LatestFulfilledByDonor returns when the donor last had a request approved,
	// in delivery, or completed, or nil if never.
	LatestFulfilledByDonor(ctx context.Context, donorID string) (*time.Time, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.BloodRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.BloodRequest)}
}

func (m *MemoryStore) SaveRequest(_ context.Context, r *models.BloodRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[r.ID]; exists {
		return apperr.Conflict("request %s already exists", r.ID)
	}
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.BloodRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFound("request", id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRequest(_ context.Context, r *models.BloodRequest, expected models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return apperr.NotFound("request", r.ID)
	}
	if cur.Status != expected {
		return apperr.Conflict("request %s is %s, expected %s", r.ID, cur.Status, expected)
	}
	cur.Status = r.Status
	cur.DonorID = r.DonorID
	cur.DonorName = r.DonorName
	cur.PaymentRef = r.PaymentRef
	cur.UpdatedAt = r.UpdatedAt
	return nil
}

func (m *MemoryStore) ListByRequester(_ context.Context, requesterID string) ([]*models.BloodRequest, error) {
	return m.filter(func(r *models.BloodRequest) bool { return r.RequesterID == requesterID }), nil
}

func (m *MemoryStore) ListByTarget(_ context.Context, kind models.PartyKind, targetID string) ([]*models.BloodRequest, error) {
	return m.filter(func(r *models.BloodRequest) bool {
		return r.TargetKind == kind && r.TargetID == targetID
	}), nil
}

func (m *MemoryStore) ListPendingBroadcasts(_ context.Context, state string) ([]*models.BloodRequest, error) {
	return m.filter(func(r *models.BloodRequest) bool {
		return r.Type == models.TypeBroadcast && r.Status == models.StatusPending &&
			strings.EqualFold(r.Region.State, state)
	}), nil
}

func (m *MemoryStore) ListByDonor(_ context.Context, donorID string) ([]*models.BloodRequest, error) {
	return m.filter(func(r *models.BloodRequest) bool { return r.DonorID == donorID }), nil
}

func (m *MemoryStore) LatestFulfilledByDonor(_ context.Context, donorID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *time.Time
	for _, r := range m.requests {
		if r.DonorID != donorID || !r.Status.Fulfilling() {
			continue
		}
		if latest == nil || r.UpdatedAt.After(*latest) {
			t := r.UpdatedAt
			latest = &t
		}
	}
	return latest, nil
}

// filter returns matching copies, newest first.
func (m *MemoryStore) filter(keep func(*models.BloodRequest) bool) []*models.BloodRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.BloodRequest, 0)
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(rs []*models.BloodRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}
