package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/blood-matching/internal/dispatch"
	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/hospitals"
	"github.com/example/blood-matching/internal/lifecycle"
	"github.com/example/blood-matching/internal/matcher"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/requests"
	"github.com/example/blood-matching/internal/storage"
)

var clock = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	srv *Server
	dir *storage.MemoryDirectory
}

func newTestAPI(t *testing.T, rps float64, burst int) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	dir := storage.NewMemoryDirectory()
	idx := geo.NewIndex()

	punjab := models.Region{State: "Punjab", City: "Ludhiana"}
	lastDonation := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dmc := models.Coord{Lat: 30.9060, Lon: 75.8230}
	require.NoError(t, dir.UpsertPatient(ctx, &models.Patient{ID: "p1", Name: "Gurpreet", Region: punjab}))
	require.NoError(t, dir.UpsertDonor(ctx, &models.Donor{ID: "d1", Name: "Harpreet", BloodGroup: models.BPos,
		Region: punjab, Availability: models.Available}))
	require.NoError(t, dir.UpsertDonor(ctx, &models.Donor{ID: "d2", Name: "Simran", BloodGroup: models.BPos,
		Region: punjab, Availability: models.Available, LastDonation: &lastDonation}))
	require.NoError(t, dir.UpsertHospital(ctx, &models.Hospital{ID: "h1", Name: "DMC Ludhiana", Region: punjab,
		Location: &dmc, LocationUpdatesLeft: 1,
		BloodStock: map[models.BloodGroup]int{models.BPos: 10, models.OPos: 3}}))

	notifier := dispatch.NewLogNotifier(logger)
	match := &matcher.Service{Directory: dir, Geo: idx, RadiusM: matcher.DefaultRadiusM}
	now := func() time.Time { clock = clock.Add(time.Second); return clock }
	hosp := &hospitals.Service{Directory: dir, Geo: idx, Logger: logger}
	// idx starts empty, as after a restart; the pins come from the directory.
	_, err := hosp.RebuildIndex(ctx)
	require.NoError(t, err)
	srv := NewServer(Deps{
		Requests: &requests.Service{Store: store, Directory: dir, Matcher: match, Notifier: notifier, Logger: logger, Now: now},
		Lifecycle: &lifecycle.Manager{Store: store, Directory: dir, Notifier: notifier, Logger: logger,
			Now: func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }},
		Matcher:        match,
		Hospitals:      hosp,
		Logger:         logger,
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
	})
	return &testAPI{srv: srv, dir: dir}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHospitalRequestApprovalTakesStock(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	rec := api.do(t, http.MethodPost, "/api/requests", map[string]any{
		"requesterId": "p1", "targetKind": "hospital", "targetId": "h1", "bloodGroup": "B+", "units": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.BloodRequest](t, rec)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = api.do(t, http.MethodPut, "/api/requests/"+created.ID+"/status", map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusApproved, decodeBody[models.BloodRequest](t, rec).Status)

	rec = api.do(t, http.MethodGet, "/api/match/hospitals?bloodGroup=B%2B&state=Punjab", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hs := decodeBody[[]models.HospitalSummary](t, rec)
	require.Len(t, hs, 1)
	assert.Equal(t, 8, hs[0].Units)

	rec = api.do(t, http.MethodGet, "/api/requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusApproved, decodeBody[models.BloodRequest](t, rec).Status)
}

func TestApprovalWithoutStockIsConflict(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	rec := api.do(t, http.MethodPost, "/api/requests", map[string]any{
		"requesterId": "p1", "targetKind": "hospital", "targetId": "h1", "bloodGroup": "O+", "units": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[models.BloodRequest](t, rec).ID

	rec = api.do(t, http.MethodPut, "/api/requests/"+id+"/status", map[string]any{"status": "approved"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.EqualValues(t, "InsufficientStock", body.Error)
	require.NotNil(t, body.Available)
	assert.Equal(t, 3, *body.Available)

	h, err := api.dir.GetHospital(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 3, h.BloodStock[models.OPos])
}

func TestDonorInCooldownGetsNextEligibleDate(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	rec := api.do(t, http.MethodGet, "/api/donors/d2/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	e := decodeBody[models.Eligibility](t, rec)
	assert.False(t, e.IsEligible)
	assert.Equal(t, 59, e.DaysRemaining)

	rec = api.do(t, http.MethodPost, "/api/requests", map[string]any{
		"requesterId": "p1", "targetKind": "donor", "targetId": "d2", "bloodGroup": "B+", "units": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[models.BloodRequest](t, rec).ID

	rec = api.do(t, http.MethodPut, "/api/requests/"+id+"/status", map[string]any{"status": "accepted"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.EqualValues(t, "NotEligible", body.Error)
	assert.Equal(t, "2024-03-31", body.NextEligibleDate)
}

func TestBroadcastFlowForDonor(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	rec := api.do(t, http.MethodPost, "/api/requests", map[string]any{
		"requesterId": "p1", "bloodGroup": "B+", "units": 1, "state": "Punjab", "priority": "urgent",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[models.BloodRequest](t, rec).ID

	rec = api.do(t, http.MethodGet, "/api/requests/donor/d1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]models.BloodRequest](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	rec = api.do(t, http.MethodPut, "/api/requests/"+id+"/status", map[string]any{"status": "approved", "donorId": "d1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[models.BloodRequest](t, rec)
	assert.Equal(t, "d1", approved.DonorID)

	rec = api.do(t, http.MethodGet, "/api/requests/patient/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.BloodRequest](t, rec), 1)
}

func TestMatchDonorsEndpoint(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	rec := api.do(t, http.MethodGet, "/api/match/donors?bloodGroup=B%2B&state=punjab", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ds := decodeBody[[]models.DonorSummary](t, rec)
	require.Len(t, ds, 2)
	assert.Equal(t, "d2", ds[0].ID)

	rec = api.do(t, http.MethodGet, "/api/match/donors?bloodGroup=B%2B&state=Kerala", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/match/donors?bloodGroup=Q&state=Punjab", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHospitalsNearby(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	rec := api.do(t, http.MethodGet, "/api/match/hospitals?bloodGroup=O%2B&lat=30.9&lon=75.82", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hs := decodeBody[[]models.HospitalSummary](t, rec)
	require.Len(t, hs, 1)
	require.NotNil(t, hs[0].DistanceM)
	assert.Less(t, *hs[0].DistanceM, 2000.0)

	rec = api.do(t, http.MethodGet, "/api/match/hospitals?bloodGroup=O%2B&lat=30.9", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationAndNotFound(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	rec := api.do(t, http.MethodPost, "/api/requests", map[string]any{"requesterId": "p1", "bloodGroup": "B+", "units": 0, "state": "Punjab"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.EqualValues(t, "ValidationError", body.Error)
	assert.Contains(t, body.Message, "units")

	rec = api.do(t, http.MethodPost, "/api/requests", map[string]any{"requesterId": "p1", "targetKind": "donor", "bloodGroup": "B+", "units": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{"))
	raw := httptest.NewRecorder()
	api.srv.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = api.do(t, http.MethodGet, "/api/requests/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.EqualValues(t, "NotFound", decodeBody[errorBody](t, rec).Error)

	rec = api.do(t, http.MethodPut, "/api/requests/nope/status", map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/donors/ghost/eligibility", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHospitalSelfService(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	rec := api.do(t, http.MethodPut, "/api/hospitals/h1/location", map[string]any{"lat": 30.91, "lon": 75.85})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[hospitals.LocationResult](t, rec)
	assert.Zero(t, res.LocationUpdatesLeft)

	rec = api.do(t, http.MethodPut, "/api/hospitals/h1/location", map[string]any{"lat": 30.92, "lon": 75.85})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/hospitals/h1/location", map[string]any{"lat": 30.92})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/hospitals/h1/stock", map[string]any{"bloodGroup": "AB-", "delta": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decodeBody[map[string]any](t, rec)["units"])

	rec = api.do(t, http.MethodPost, "/api/hospitals/h1/stock", map[string]any{"bloodGroup": "AB-", "delta": -5})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	api := newTestAPI(t, 1, 2)
	for i := 0; i < 2; i++ {
		rec := api.do(t, http.MethodGet, "/api/requests/patient/p1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := api.do(t, http.MethodGet, "/api/requests/patient/p1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodGet, "/api/requests/patient/p1", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.9")
	fresh := httptest.NewRecorder()
	api.srv.ServeHTTP(fresh, other)
	assert.Equal(t, http.StatusOK, fresh.Code)

	health := httptest.NewRecorder()
	api.srv.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
