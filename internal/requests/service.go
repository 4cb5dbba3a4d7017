// Package requests creates blood requests, announces them to matched parties,
// and lists them per party.
package requests

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/dispatch"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/matcher"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/observability"
)

type Store interface {
	SaveRequest(ctx context.Context, r *models.BloodRequest) error
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.BloodRequest, error)
	ListByTarget(ctx context.Context, kind models.PartyKind, targetID string) ([]*models.BloodRequest, error)
	ListPendingBroadcasts(ctx context.Context, state string) ([]*models.BloodRequest, error)
	ListByDonor(ctx context.Context, donorID string) ([]*models.BloodRequest, error)
}

type Directory interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	GetDonor(ctx context.Context, id string) (*models.Donor, error)
	GetHospital(ctx context.Context, id string) (*models.Hospital, error)
}

type Matcher interface {
	MatchDonors(ctx context.Context, group models.BloodGroup, region models.Region) ([]models.DonorSummary, error)
	RegionNear(ctx context.Context, p models.Coord) (models.Region, error)
}

type Notifier interface {
	RequestCreated(ctx context.Context, r *models.BloodRequest, to []dispatch.Recipient) error
}

type Publisher interface {
	PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error
}

// Service is safe for concurrent use. Notifier and Publisher are optional.
type Service struct {
	Store     Store
	Directory Directory
	Matcher   Matcher
	Notifier  Notifier
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// CreateInput is a request as submitted by a patient or hospital. An empty
// TargetKind makes a broadcast.
type CreateInput struct {
	RequesterID   string
	RequesterKind string
	TargetKind    string
	TargetID      string
	BloodGroup    string
	Units         int
	Priority      string
	Region        models.Region
	Location      *models.Coord
	Contact       string
	Notes         string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.BloodRequest, error) {
	r, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	home, err := s.resolveParties(ctx, r)
	if err != nil {
		return nil, err
	}
	if r.Type == models.TypeBroadcast && r.Region.Empty() {
		if err := s.locateBroadcast(ctx, r, home); err != nil {
			return nil, err
		}
	}

	now := s.now()
	r.ID = uuid.NewString()
	r.Status = models.StatusPending
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.Store.SaveRequest(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsCreated.WithLabelValues(string(r.Type)).Inc()
	s.log().InfoContext(ctx, "request created", "request_id", r.ID, "type", r.Type, "blood_group", r.BloodGroup,
		"units", r.Units, "requester_id", r.RequesterID, "target_id", r.TargetID)

	s.announce(ctx, r)
	return r, nil
}

func (s *Service) validate(in CreateInput) (*models.BloodRequest, error) {
	group, err := models.ParseBloodGroup(in.BloodGroup)
	if err != nil {
		return nil, apperr.Invalid("invalid blood group", err)
	}
	if in.Units <= 0 {
		return nil, apperr.Validation("units must be positive, got %d", in.Units)
	}
	if in.Units > models.MaxRequestUnits {
		return nil, apperr.Validation("units must be at most %d, got %d", models.MaxRequestUnits, in.Units)
	}
	priority, err := models.ParsePriority(in.Priority)
	if err != nil {
		return nil, apperr.Invalid("invalid priority", err)
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return nil, apperr.Validation("requesterId is required")
	}

	r := &models.BloodRequest{
		RequesterID:   strings.TrimSpace(in.RequesterID),
		RequesterKind: models.PartyPatient,
		TargetID:      strings.TrimSpace(in.TargetID),
		BloodGroup:    group,
		Units:         in.Units,
		Priority:      priority,
		Region:        models.Region{State: strings.TrimSpace(in.Region.State), City: strings.TrimSpace(in.Region.City)},
		Contact:       in.Contact,
		Notes:         in.Notes,
	}
	if in.RequesterKind != "" {
		if r.RequesterKind, err = models.ParsePartyKind(in.RequesterKind); err != nil || r.RequesterKind == models.PartyDonor {
			return nil, apperr.Validation("requesterKind must be patient or hospital, got %q", in.RequesterKind)
		}
	}

	switch strings.ToLower(strings.TrimSpace(in.TargetKind)) {
	case "", "none", "broadcast":
		if r.TargetID != "" {
			return nil, apperr.Validation("targetId given without targetKind")
		}
		r.Type = models.TypeBroadcast
	case string(models.PartyDonor):
		r.Type, r.TargetKind = models.TypeDonor, models.PartyDonor
	case string(models.PartyHospital):
		r.Type, r.TargetKind = models.TypeHospital, models.PartyHospital
	default:
		return nil, apperr.Validation("targetKind must be donor or hospital, got %q", in.TargetKind)
	}
	if r.TargetKind != "" && r.TargetID == "" {
		return nil, apperr.Validation("targetId is required for a %s request", r.TargetKind)
	}
	if r.TargetKind == models.PartyHospital && r.RequesterKind == models.PartyHospital && r.TargetID == r.RequesterID {
		return nil, apperr.Validation("a hospital cannot request blood from itself")
	}

	if in.Location != nil {
		if !geo.ValidCoord(*in.Location) {
			return nil, apperr.Validation("coordinates out of range: %v,%v", in.Location.Lat, in.Location.Lon)
		}
		loc := *in.Location
		r.Location = &loc
	}
	return r, nil
}

// resolveParties checks that both ends exist and fills display names. A
// targeted request without a region inherits the target's. The requester's
// own region is returned for broadcasts that name none.
func (s *Service) resolveParties(ctx context.Context, r *models.BloodRequest) (models.Region, error) {
	var home models.Region
	switch r.RequesterKind {
	case models.PartyHospital:
		h, err := s.Directory.GetHospital(ctx, r.RequesterID)
		if err != nil {
			return home, err
		}
		r.RequesterName, home = h.Name, h.Region
	default:
		p, err := s.Directory.GetPatient(ctx, r.RequesterID)
		if err != nil {
			return home, err
		}
		r.RequesterName, home = p.Name, p.Region
		if r.Contact == "" {
			r.Contact = p.Contact
		}
	}

	var targetRegion models.Region
	switch r.TargetKind {
	case models.PartyDonor:
		d, err := s.Directory.GetDonor(ctx, r.TargetID)
		if err != nil {
			return home, err
		}
		r.TargetName, targetRegion = d.Name, d.Region
	case models.PartyHospital:
		h, err := s.Directory.GetHospital(ctx, r.TargetID)
		if err != nil {
			return home, err
		}
		r.TargetName, targetRegion = h.Name, h.Region
	}
	if r.Region.Empty() {
		r.Region = targetRegion
	}
	return home, nil
}

// locateBroadcast fills the region of a broadcast that named none: from the
// closest located hospital to its coordinates, else from the requester.
func (s *Service) locateBroadcast(ctx context.Context, r *models.BloodRequest, home models.Region) error {
	if r.Location != nil {
		near, err := s.Matcher.RegionNear(ctx, *r.Location)
		if err != nil {
			return err
		}
		if !near.Empty() {
			r.Region = near
			return nil
		}
	}
	if home.Empty() {
		return apperr.Validation("state is required for a broadcast request")
	}
	r.Region = home
	return nil
}

// announce works out who hears about r and tells them. Failures here are
// logged; the request already exists.
func (s *Service) announce(ctx context.Context, r *models.BloodRequest) {
	var to []dispatch.Recipient
	switch r.Type {
	case models.TypeDonor:
		to = []dispatch.Recipient{{Kind: models.PartyDonor, ID: r.TargetID, Name: r.TargetName}}
	case models.TypeHospital:
		to = []dispatch.Recipient{{Kind: models.PartyHospital, ID: r.TargetID, Name: r.TargetName}}
	default:
		donors, err := s.Matcher.MatchDonors(ctx, r.BloodGroup, r.Region)
		if err != nil {
			s.log().WarnContext(ctx, "match donors failed", "request_id", r.ID, "error", err)
		}
		for _, d := range donors {
			to = append(to, dispatch.Recipient{Kind: models.PartyDonor, ID: d.ID, Name: d.Name})
		}
	}

	if s.Notifier != nil {
		if err := s.Notifier.RequestCreated(ctx, r, to); err != nil {
			s.log().WarnContext(ctx, "notify failed", "request_id", r.ID, "error", err)
		}
	}
	if s.Publisher != nil {
		ev := models.RequestEvent{Type: "request.created", RequestID: r.ID, To: r.Status, Request: r, At: r.CreatedAt}
		if err := s.Publisher.PublishRequestEvent(ctx, ev); err != nil {
			s.log().WarnContext(ctx, "publish failed", "request_id", r.ID, "error", err)
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.BloodRequest, error) {
	return s.Store.GetRequest(ctx, id)
}

// ListForParty returns the requests a party should see, newest first.
// Donors see requests addressed to them, requests they took on, and pending
// broadcasts in their state that their group can serve.
func (s *Service) ListForParty(ctx context.Context, kind models.PartyKind, id string) ([]*models.BloodRequest, error) {
	switch kind {
	case models.PartyPatient:
		return s.Store.ListByRequester(ctx, id)
	case models.PartyHospital:
		made, err := s.Store.ListByRequester(ctx, id)
		if err != nil {
			return nil, err
		}
		received, err := s.Store.ListByTarget(ctx, models.PartyHospital, id)
		if err != nil {
			return nil, err
		}
		return merge(made, received), nil
	case models.PartyDonor:
		d, err := s.Directory.GetDonor(ctx, id)
		if err != nil {
			return nil, err
		}
		targeted, err := s.Store.ListByTarget(ctx, models.PartyDonor, id)
		if err != nil {
			return nil, err
		}
		taken, err := s.Store.ListByDonor(ctx, id)
		if err != nil {
			return nil, err
		}
		pending, err := s.Store.ListPendingBroadcasts(ctx, d.Region.State)
		if err != nil {
			return nil, err
		}
		open := make([]*models.BloodRequest, 0, len(pending))
		for _, r := range pending {
			if matcher.IsCompatible(r.BloodGroup, d.BloodGroup) {
				open = append(open, r)
			}
		}
		return merge(targeted, taken, open), nil
	}
	return nil, apperr.Validation("unknown party kind %q", kind)
}

func merge(lists ...[]*models.BloodRequest) []*models.BloodRequest {
	seen := make(map[string]bool)
	out := make([]*models.BloodRequest, 0)
	for _, l := range lists {
		for _, r := range l {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
