package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/observability"
)

// DefaultRadiusM is the proximity search radius when none is configured.
const DefaultRadiusM = 5000.0

type Directory interface {
	DonorsInRegion(ctx context.Context, region models.Region) ([]*models.Donor, error)
	HospitalsInRegion(ctx context.Context, region models.Region) ([]*models.Hospital, error)
	HospitalsByID(ctx context.Context, ids []string) ([]*models.Hospital, error)
}

type Geo interface {
	Nearby(ctx context.Context, lat, lon, radiusM float64) ([]geo.Hit, error)
}

type Service struct {
	Directory Directory
	Geo       Geo
	RadiusM   float64
}

// HospitalQuery picks the search mode: Near switches to proximity search,
// otherwise Region equality is used.
type HospitalQuery struct {
	Region models.Region
	Near   *models.Coord
}

// MatchDonors returns available donors in region whose group is compatible
// with the request, most recent donors first. No match is an empty slice.
func (s *Service) MatchDonors(ctx context.Context, group models.BloodGroup, region models.Region) ([]models.DonorSummary, error) {
	if region.Empty() {
		return nil, apperr.Validation("state is required to match donors")
	}
	start := time.Now()
	donors, err := s.Directory.DonorsInRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	eligible := make([]*models.Donor, 0, len(donors))
	for _, d := range donors {
		if d.Availability != models.Available || !IsCompatible(group, d.BloodGroup) {
			continue
		}
		eligible = append(eligible, d)
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i].LastDonation, eligible[j].LastDonation
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return eligible[i].ID < eligible[j].ID
	})

	out := make([]models.DonorSummary, 0, len(eligible))
	for _, d := range eligible {
		out = append(out, models.DonorSummary{
			ID:           d.ID,
			Name:         d.Name,
			BloodGroup:   d.BloodGroup,
			Region:       d.Region,
			LastDonation: d.LastDonation,
		})
	}
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchCandidates.WithLabelValues("donor").Observe(float64(len(out)))
	return out, nil
}

// MatchHospitals returns hospitals holding at least one unit of group. In
// proximity mode results are closest first; in region mode they are ordered
// by units held, largest first.
func (s *Service) MatchHospitals(ctx context.Context, group models.BloodGroup, q HospitalQuery) ([]models.HospitalSummary, error) {
	start := time.Now()
	var (
		out []models.HospitalSummary
		err error
	)
	switch {
	case q.Near != nil:
		out, err = s.nearbyHospitals(ctx, group, *q.Near)
	case !q.Region.Empty():
		out, err = s.regionHospitals(ctx, group, q.Region)
	default:
		return nil, apperr.Validation("either coordinates or a state are required to match hospitals")
	}
	if err != nil {
		return nil, err
	}
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchCandidates.WithLabelValues("hospital").Observe(float64(len(out)))
	return out, nil
}

func (s *Service) nearbyHospitals(ctx context.Context, group models.BloodGroup, near models.Coord) ([]models.HospitalSummary, error) {
	if !geo.ValidCoord(near) {
		return nil, apperr.Validation("coordinates out of range: %v,%v", near.Lat, near.Lon)
	}
	if s.Geo == nil {
		return nil, apperr.Validation("proximity search is not configured")
	}
	hits, err := s.Geo.Nearby(ctx, near.Lat, near.Lon, s.radius())
	if err != nil {
		return nil, apperr.Storage("geo search", err)
	}
	if len(hits) == 0 {
		return []models.HospitalSummary{}, nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	hospitals, err := s.Directory.HospitalsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Hospital, len(hospitals))
	for _, h := range hospitals {
		byID[h.ID] = h
	}
	out := make([]models.HospitalSummary, 0, len(hits))
	for _, hit := range hits {
		h, ok := byID[hit.ID]
		if !ok || h.BloodStock[group] <= 0 {
			continue
		}
		dist := hit.DistanceM
		sum := summarize(h, group)
		sum.DistanceM = &dist
		out = append(out, sum)
	}
	return out, nil
}

// RegionNear returns the region of the closest located hospital within the
// search radius of p. An empty region means nothing is close enough.
func (s *Service) RegionNear(ctx context.Context, p models.Coord) (models.Region, error) {
	if !geo.ValidCoord(p) {
		return models.Region{}, apperr.Validation("coordinates out of range: %v,%v", p.Lat, p.Lon)
	}
	if s.Geo == nil {
		return models.Region{}, nil
	}
	hits, err := s.Geo.Nearby(ctx, p.Lat, p.Lon, s.radius())
	if err != nil {
		return models.Region{}, apperr.Storage("geo search", err)
	}
	if len(hits) == 0 {
		return models.Region{}, nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	hospitals, err := s.Directory.HospitalsByID(ctx, ids)
	if err != nil {
		return models.Region{}, err
	}
	byID := make(map[string]models.Region, len(hospitals))
	for _, h := range hospitals {
		byID[h.ID] = h.Region
	}
	for _, hit := range hits {
		if r, ok := byID[hit.ID]; ok && !r.Empty() {
			return r, nil
		}
	}
	return models.Region{}, nil
}

func (s *Service) radius() float64 {
	if s.RadiusM <= 0 {
		return DefaultRadiusM
	}
	return s.RadiusM
}

func (s *Service) regionHospitals(ctx context.Context, group models.BloodGroup, region models.Region) ([]models.HospitalSummary, error) {
	hospitals, err := s.Directory.HospitalsInRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	out := make([]models.HospitalSummary, 0, len(hospitals))
	for _, h := range hospitals {
		if h.BloodStock[group] > 0 {
			out = append(out, summarize(h, group))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units == out[j].Units {
			return out[i].ID < out[j].ID
		}
		return out[i].Units > out[j].Units
	})
	return out, nil
}

func summarize(h *models.Hospital, group models.BloodGroup) models.HospitalSummary {
	return models.HospitalSummary{
		ID:       h.ID,
		Name:     h.Name,
		Region:   h.Region,
		Location: h.Location,
		Units:    h.BloodStock[group],
		Address:  h.Address,
		Contact:  h.Contact,
	}
}
