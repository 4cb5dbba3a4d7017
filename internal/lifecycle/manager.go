package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/matcher"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/observability"
)

type Store interface {
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
	UpdateRequest(ctx context.Context, r *models.BloodRequest, expected models.Status) error
	LatestFulfilledByDonor(ctx context.Context, donorID string) (*time.Time, error)
}

type Directory interface {
	GetDonor(ctx context.Context, id string) (*models.Donor, error)
	AdjustStock(ctx context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error)
	RecordDonation(ctx context.Context, donorID string, at time.Time) error
}

// Charger holds the processing charge for hospital-issued units.
type Charger interface {
	Hold(ctx context.Context, requestID string, units int) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

type Notifier interface {
	StatusChanged(ctx context.Context, r *models.BloodRequest, from models.Status) error
}

type Publisher interface {
	PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error
}

// Manager applies status transitions. Charger, Notifier and Publisher are optional.
type Manager struct {
	Store     Store
	Directory Directory
	Charger   Charger
	Notifier  Notifier
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time

	locks keyedMutex
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// UpdateStatus moves request id to status to. donorID names the donor
// accepting a donor or broadcast request; it may be empty for a request that
// already targets a donor.
//
// Stock is taken before the status write and given back if the write loses;
// stock is returned only after a cancellation has been written.
func (m *Manager) UpdateStatus(ctx context.Context, id string, to models.Status, donorID string) (*models.BloodRequest, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	from := cur.Status
	if from.Terminal() {
		return nil, apperr.Validation("request %s is already %s", id, from)
	}
	if !models.CanTransition(from, to) {
		return nil, apperr.Validation("request %s cannot move from %s to %s", id, from, to)
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = m.now()

	var undo []func(context.Context) error
	if from == models.StatusPending && to == models.StatusApproved {
		if cur.TargetKind == models.PartyHospital {
			undo, err = m.reserveStock(ctx, next)
		} else {
			err = m.assignDonor(ctx, next, donorID)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := m.Store.UpdateRequest(ctx, next, from); err != nil {
		m.rollback(ctx, id, undo)
		return nil, err
	}
	observability.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()

	m.afterWrite(ctx, cur, next)
	m.announce(ctx, next, from)
	return next, nil
}

// reserveStock holds the processing charge and takes the units from the
// target hospital, returning the steps that undo both.
func (m *Manager) reserveStock(ctx context.Context, r *models.BloodRequest) ([]func(context.Context) error, error) {
	var undo []func(context.Context) error
	if m.Charger != nil {
		ref, err := m.Charger.Hold(ctx, r.ID, r.Units)
		if err != nil {
			return nil, apperr.Storage("hold processing charge", err)
		}
		r.PaymentRef = ref
		undo = append(undo, func(ctx context.Context) error { return m.Charger.Cancel(ctx, ref) })
	}
	left, err := m.Directory.AdjustStock(ctx, r.TargetID, r.BloodGroup, -r.Units)
	if err != nil {
		if apperr.Is(err, apperr.KindInsufficientStock) {
			observability.StockRejections.Inc()
		}
		m.rollback(ctx, r.ID, undo)
		return nil, err
	}
	m.log().InfoContext(ctx, "stock reserved", "request_id", r.ID, "hospital_id", r.TargetID,
		"blood_group", r.BloodGroup, "units", r.Units, "remaining", left)
	undo = append(undo, func(ctx context.Context) error {
		_, err := m.Directory.AdjustStock(ctx, r.TargetID, r.BloodGroup, r.Units)
		return err
	})
	return undo, nil
}

func (m *Manager) assignDonor(ctx context.Context, r *models.BloodRequest, donorID string) error {
	if r.TargetKind == models.PartyDonor {
		if donorID == "" {
			donorID = r.TargetID
		}
		if donorID != r.TargetID {
			return apperr.Validation("request %s is addressed to donor %s", r.ID, r.TargetID)
		}
	}
	if donorID == "" {
		return apperr.Validation("donorId is required to accept request %s", r.ID)
	}
	d, err := m.Directory.GetDonor(ctx, donorID)
	if err != nil {
		return err
	}
	if d.Availability != models.Available {
		return apperr.Validation("donor %s is not available to donate", d.ID)
	}
	if !matcher.IsCompatible(r.BloodGroup, d.BloodGroup) {
		return apperr.Validation("donor %s (%s) cannot give for a %s request", d.ID, d.BloodGroup, r.BloodGroup)
	}
	elig, err := m.eligibility(ctx, d)
	if err != nil {
		return err
	}
	if !elig.IsEligible {
		observability.EligibilityRejections.Inc()
		return apperr.NotEligible(d.ID, *elig.NextEligibleDate)
	}
	r.DonorID = d.ID
	r.DonorName = d.Name
	return nil
}

// afterWrite runs the side effects that follow a committed transition. They
// are logged on failure; the transition itself stands.
func (m *Manager) afterWrite(ctx context.Context, prev, next *models.BloodRequest) {
	switch next.Status {
	case models.StatusRejected:
		if prev.Status != models.StatusApproved || prev.TargetKind != models.PartyHospital {
			return
		}
		if _, err := m.Directory.AdjustStock(ctx, prev.TargetID, prev.BloodGroup, prev.Units); err != nil {
			m.log().ErrorContext(ctx, "stock refund failed", "request_id", prev.ID, "hospital_id", prev.TargetID,
				"blood_group", prev.BloodGroup, "units", prev.Units, "error", err)
		}
		if m.Charger != nil && prev.PaymentRef != "" {
			if err := m.Charger.Cancel(ctx, prev.PaymentRef); err != nil {
				m.log().ErrorContext(ctx, "processing charge release failed", "request_id", prev.ID, "error", err)
			}
		}
	case models.StatusCompleted:
		if m.Charger != nil && next.PaymentRef != "" {
			if err := m.Charger.Capture(ctx, next.PaymentRef); err != nil {
				m.log().ErrorContext(ctx, "processing charge capture failed", "request_id", next.ID, "error", err)
			}
		}
		if next.DonorID != "" {
			if err := m.Directory.RecordDonation(ctx, next.DonorID, next.UpdatedAt); err != nil {
				m.log().ErrorContext(ctx, "record donation failed", "request_id", next.ID, "donor_id", next.DonorID, "error", err)
			}
		}
	}
}

func (m *Manager) announce(ctx context.Context, r *models.BloodRequest, from models.Status) {
	if m.Notifier != nil {
		if err := m.Notifier.StatusChanged(ctx, r, from); err != nil {
			m.log().WarnContext(ctx, "notify failed", "request_id", r.ID, "error", err)
		}
	}
	if m.Publisher != nil {
		ev := models.RequestEvent{Type: "request.status_changed", RequestID: r.ID, From: from, To: r.Status, Request: r, At: r.UpdatedAt}
		if err := m.Publisher.PublishRequestEvent(ctx, ev); err != nil {
			m.log().WarnContext(ctx, "publish failed", "request_id", r.ID, "error", err)
		}
	}
}

// rollback runs undo steps newest first on a context that outlives the caller's.
func (m *Manager) rollback(ctx context.Context, id string, undo []func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			m.log().ErrorContext(ctx, "rollback step failed", "request_id", id, "error", err)
		}
	}
}

// DonorEligibility reports the donor's cooldown state at the current time.
func (m *Manager) DonorEligibility(ctx context.Context, donorID string) (models.Eligibility, error) {
	d, err := m.Directory.GetDonor(ctx, donorID)
	if err != nil {
		return models.Eligibility{}, err
	}
	return m.eligibility(ctx, d)
}

func (m *Manager) eligibility(ctx context.Context, d *models.Donor) (models.Eligibility, error) {
	var fallback *time.Time
	if d.LastDonation == nil {
		var err error
		if fallback, err = m.Store.LatestFulfilledByDonor(ctx, d.ID); err != nil {
			return models.Eligibility{}, err
		}
	}
	return Evaluate(d.ID, d.LastDonation, fallback, m.now()), nil
}

func (m *Manager) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
