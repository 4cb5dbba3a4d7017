// Package hospitals holds the operations hospital staff run against their own
// record: moving the map pin and restocking.
package hospitals

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/observability"
)

type Directory interface {
	UpdateHospitalLocation(ctx context.Context, hospitalID string, loc models.Coord) (int, error)
	AdjustStock(ctx context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error)
	LocatedHospitals(ctx context.Context) ([]models.HospitalLocation, error)
}

type Geo interface {
	Upsert(ctx context.Context, id string, loc models.Coord) error
}

type Publisher interface {
	PublishLocation(ctx context.Context, loc models.HospitalLocation) error
}

type Service struct {
	Directory Directory
	Geo       Geo
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// LocationResult echoes the stored point and the remaining update allowance.
type LocationResult struct {
	HospitalID          string       `json:"hospitalId"`
	Location            models.Coord `json:"location"`
	LocationUpdatesLeft int          `json:"locationUpdatesLeft"`
}

// UpdateLocation spends one of the hospital's location updates. Once the
// directory has accepted the point, index and publish failures are logged
// only.
func (s *Service) UpdateLocation(ctx context.Context, hospitalID string, loc models.Coord) (*LocationResult, error) {
	if !geo.ValidCoord(loc) {
		return nil, apperr.Validation("coordinates out of range: %v,%v", loc.Lat, loc.Lon)
	}
	left, err := s.Directory.UpdateHospitalLocation(ctx, hospitalID, loc)
	if err != nil {
		return nil, err
	}
	observability.LocationUpdates.Inc()
	s.log().InfoContext(ctx, "hospital location updated", "hospital_id", hospitalID, "lat", loc.Lat, "lon", loc.Lon, "updates_left", left)

	if s.Geo != nil {
		if err := s.Geo.Upsert(ctx, hospitalID, loc); err != nil {
			s.log().WarnContext(ctx, "geo upsert failed", "hospital_id", hospitalID, "error", err)
		}
	}
	if s.Publisher != nil {
		ev := models.HospitalLocation{HospitalID: hospitalID, Loc: loc, Updated: s.now()}
		if err := s.Publisher.PublishLocation(ctx, ev); err != nil {
			s.log().WarnContext(ctx, "publish location failed", "hospital_id", hospitalID, "error", err)
		}
	}
	return &LocationResult{HospitalID: hospitalID, Location: loc, LocationUpdatesLeft: left}, nil
}

// RebuildIndex puts every located hospital from the directory on the geo
// index. A process-local index starts empty, so the server runs this at boot.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	if s.Geo == nil {
		return 0, nil
	}
	locs, err := s.Directory.LocatedHospitals(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range locs {
		if !geo.ValidCoord(l.Loc) {
			s.log().WarnContext(ctx, "skipping hospital with invalid location", "hospital_id", l.HospitalID, "lat", l.Loc.Lat, "lon", l.Loc.Lon)
			continue
		}
		if err := s.Geo.Upsert(ctx, l.HospitalID, l.Loc); err != nil {
			return n, apperr.Storage("index hospital "+l.HospitalID, err)
		}
		n++
	}
	s.log().InfoContext(ctx, "hospital index rebuilt", "hospitals", n)
	return n, nil
}

// Restock adds delta units of group to the hospital and returns the new
// count. Negative deltas write off units and may not go below zero.
func (s *Service) Restock(ctx context.Context, hospitalID string, group models.BloodGroup, delta int) (int, error) {
	if delta == 0 {
		return 0, apperr.Validation("delta must not be zero")
	}
	if delta > models.MaxStockDelta || delta < -models.MaxStockDelta {
		return 0, apperr.Validation("delta must be between -%d and %d, got %d", models.MaxStockDelta, models.MaxStockDelta, delta)
	}
	units, err := s.Directory.AdjustStock(ctx, hospitalID, group, delta)
	if err != nil {
		return 0, err
	}
	s.log().InfoContext(ctx, "stock adjusted", "hospital_id", hospitalID, "blood_group", group, "delta", delta, "units", units)
	return units, nil
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
