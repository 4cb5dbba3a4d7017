package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/storage"
)

func TestIsCompatible(t *testing.T) {
	cases := []struct {
		requested, candidate models.BloodGroup
		want                 bool
	}{
		{models.APos, models.APos, true},
		{models.APos, models.ANeg, false},
		{models.ABPos, models.APos, false},
		{models.ABPos, models.ONeg, true},
		{models.BNeg, models.ONeg, true},
		{models.ONeg, models.ABPos, true},
		{models.ONeg, models.BNeg, true},
		{models.OPos, models.APos, true},
		{models.OPos, models.ABPos, true},
		{models.OPos, models.BNeg, false},
		{models.OPos, models.ONeg, true},
		{models.ANeg, models.OPos, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsCompatible(tc.requested, tc.candidate), "%s <- %s", tc.requested, tc.candidate)
	}
}

func TestIsCompatibleONegRequestAcceptsEveryone(t *testing.T) {
	for _, g := range models.BloodGroups {
		assert.True(t, IsCompatible(models.ONeg, g), g)
	}
}

func newDirectory(t *testing.T) *storage.MemoryDirectory {
	t.Helper()
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	donors := []*models.Donor{
		{ID: "d-oneg", BloodGroup: models.ONeg, Region: models.Region{State: "Delhi", City: "New Delhi"}, Availability: models.Available, LastDonation: &older},
		{ID: "d-apos", BloodGroup: models.APos, Region: models.Region{State: "Delhi", City: "South Delhi"}, Availability: models.Available},
		{ID: "d-abpos", BloodGroup: models.ABPos, Region: models.Region{State: "Delhi", City: "New Delhi"}, Availability: models.Available, LastDonation: &newer},
		{ID: "d-away", BloodGroup: models.ABPos, Region: models.Region{State: "Punjab"}, Availability: models.Available},
		{ID: "d-busy", BloodGroup: models.ABPos, Region: models.Region{State: "Delhi"}, Availability: models.Unavailable},
	}
	for _, d := range donors {
		require.NoError(t, dir.UpsertDonor(ctx, d))
	}
	hospitals := []*models.Hospital{
		{ID: "aiims", Name: "AIIMS Delhi", Region: models.Region{State: "Delhi", City: "New Delhi"}, Location: &models.Coord{Lat: 28.5672, Lon: 77.2100},
			BloodStock: map[models.BloodGroup]int{models.OPos: 20, models.ONeg: 10}},
		{ID: "safdarjung", Name: "Safdarjung", Region: models.Region{State: "Delhi", City: "South Delhi"}, Location: &models.Coord{Lat: 28.5685, Lon: 77.2066},
			BloodStock: map[models.BloodGroup]int{models.OPos: 25, models.ONeg: 0}},
		{ID: "pgi", Name: "PGI Chandigarh", Region: models.Region{State: "Punjab", City: "Chandigarh"}, Location: &models.Coord{Lat: 30.7650, Lon: 76.7750},
			BloodStock: map[models.BloodGroup]int{models.OPos: 18}},
	}
	for _, h := range hospitals {
		require.NoError(t, dir.UpsertHospital(ctx, h))
	}
	return dir
}

func newService(t *testing.T) *Service {
	t.Helper()
	dir := newDirectory(t)
	idx := geo.NewIndex()
	hs, err := dir.HospitalsInRegion(context.Background(), models.Region{State: "Delhi"})
	require.NoError(t, err)
	more, err := dir.HospitalsInRegion(context.Background(), models.Region{State: "Punjab"})
	require.NoError(t, err)
	for _, h := range append(hs, more...) {
		require.NoError(t, idx.Upsert(context.Background(), h.ID, *h.Location))
	}
	return &Service{Directory: dir, Geo: idx, RadiusM: DefaultRadiusM}
}

func donorIDs(ds []models.DonorSummary) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

func TestMatchDonorsABPosInDelhi(t *testing.T) {
	s := newService(t)
	got, err := s.MatchDonors(context.Background(), models.ABPos, models.Region{State: "Delhi"})
	require.NoError(t, err)
	// most recent donation first; the plain A+ donor, the unavailable donor and Punjab stay out
	assert.Equal(t, []string{"d-abpos", "d-oneg"}, donorIDs(got))
}

func TestMatchDonorsONegReturnsWholeRegion(t *testing.T) {
	s := newService(t)
	got, err := s.MatchDonors(context.Background(), models.ONeg, models.Region{State: "delhi"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d-oneg", "d-apos", "d-abpos"}, donorIDs(got))
}

func TestMatchDonorsCityNarrowsRegion(t *testing.T) {
	s := newService(t)
	got, err := s.MatchDonors(context.Background(), models.ONeg, models.Region{State: "Delhi", City: "South Delhi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d-apos"}, donorIDs(got))
}

func TestMatchDonorsNoMatchIsEmpty(t *testing.T) {
	s := newService(t)
	got, err := s.MatchDonors(context.Background(), models.BNeg, models.Region{State: "Kerala"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchDonorsRequiresState(t *testing.T) {
	s := newService(t)
	_, err := s.MatchDonors(context.Background(), models.APos, models.Region{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMatchHospitalsByRegionOrdersByUnits(t *testing.T) {
	s := newService(t)
	got, err := s.MatchHospitals(context.Background(), models.OPos, HospitalQuery{Region: models.Region{State: "Delhi"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "safdarjung", got[0].ID)
	assert.Equal(t, 25, got[0].Units)
	assert.Equal(t, "aiims", got[1].ID)
}

func TestMatchHospitalsSkipsEmptyStock(t *testing.T) {
	s := newService(t)
	got, err := s.MatchHospitals(context.Background(), models.ONeg, HospitalQuery{Region: models.Region{State: "Delhi"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aiims", got[0].ID)
}

func TestMatchHospitalsNearby(t *testing.T) {
	s := newService(t)
	near := models.Coord{Lat: 28.5672, Lon: 77.2100}
	got, err := s.MatchHospitals(context.Background(), models.OPos, HospitalQuery{Near: &near})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aiims", got[0].ID)
	require.NotNil(t, got[0].DistanceM)
	assert.Equal(t, "safdarjung", got[1].ID)
}

func TestMatchHospitalsIsIdempotent(t *testing.T) {
	s := newService(t)
	q := HospitalQuery{Region: models.Region{State: "Delhi"}}
	first, err := s.MatchHospitals(context.Background(), models.OPos, q)
	require.NoError(t, err)
	second, err := s.MatchHospitals(context.Background(), models.OPos, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMatchHospitalsRejectsBadQuery(t *testing.T) {
	s := newService(t)
	_, err := s.MatchHospitals(context.Background(), models.OPos, HospitalQuery{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	bad := models.Coord{Lat: 123, Lon: 0}
	_, err = s.MatchHospitals(context.Background(), models.OPos, HospitalQuery{Near: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRegionNearPicksClosestHospital(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	r, err := s.RegionNear(ctx, models.Coord{Lat: 28.5686, Lon: 77.2065})
	require.NoError(t, err)
	assert.Equal(t, models.Region{State: "Delhi", City: "South Delhi"}, r)

	r, err = s.RegionNear(ctx, models.Coord{Lat: 19.07, Lon: 72.87})
	require.NoError(t, err)
	assert.True(t, r.Empty())

	_, err = s.RegionNear(ctx, models.Coord{Lat: 0, Lon: 200})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
