package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/blood-matching/internal/apperr"
	"github.com/example/blood-matching/internal/hospitals"
	"github.com/example/blood-matching/internal/lifecycle"
	"github.com/example/blood-matching/internal/matcher"
	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/requests"
)

type Server struct {
	Requests  *requests.Service
	Lifecycle *lifecycle.Manager
	Matcher   *matcher.Service
	Hospitals *hospitals.Service

	logger   *slog.Logger
	limiter  *clientLimiter
	validate *validator.Validate
	mux      *mux.Router
}

// Deps is everything the API needs. RateLimitRPS <= 0 turns limiting off.
type Deps struct {
	Requests       *requests.Service
	Lifecycle      *lifecycle.Manager
	Matcher        *matcher.Service
	Hospitals      *hospitals.Service
	Logger         *slog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Requests:  d.Requests,
		Lifecycle: d.Lifecycle,
		Matcher:   d.Matcher,
		Hospitals: d.Hospitals,
		logger:    logger,
		limiter:   newClientLimiter(d.RateLimitRPS, d.RateLimitBurst),
		validate:  newValidator(),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/status", s.handleUpdateStatus).Methods("PUT")
	api.HandleFunc("/requests/{kind:patient|donor|hospital}/{userId}", s.handleListForParty).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/match/donors", s.handleMatchDonors).Methods("GET")
	api.HandleFunc("/match/hospitals", s.handleMatchHospitals).Methods("GET")
	api.HandleFunc("/donors/{id}/eligibility", s.handleEligibility).Methods("GET")
	api.HandleFunc("/hospitals/{id}/location", s.handleHospitalLocation).Methods("PUT")
	api.HandleFunc("/hospitals/{id}/stock", s.handleRestock).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestPayload struct {
	RequesterID   string   `json:"requesterId" validate:"required"`
	RequesterKind string   `json:"requesterKind" validate:"omitempty,oneof=patient hospital"`
	TargetKind    string   `json:"targetKind" validate:"omitempty,oneof=donor hospital"`
	TargetID      string   `json:"targetId" validate:"required_with=TargetKind"`
	BloodGroup    string   `json:"bloodGroup" validate:"required"`
	Units         int      `json:"units" validate:"gt=0"`
	Priority      string   `json:"priority"`
	State         string   `json:"state"`
	City          string   `json:"city"`
	Lat           *float64 `json:"lat" validate:"omitempty,min=-90,max=90"`
	Lon           *float64 `json:"lon" validate:"omitempty,min=-180,max=180"`
	Contact       string   `json:"contact" validate:"max=64"`
	Notes         string   `json:"notes" validate:"max=1000"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var p createRequestPayload
	if !s.decode(w, r, &p) {
		return
	}
	in := requests.CreateInput{
		RequesterID:   p.RequesterID,
		RequesterKind: p.RequesterKind,
		TargetKind:    p.TargetKind,
		TargetID:      p.TargetID,
		BloodGroup:    p.BloodGroup,
		Units:         p.Units,
		Priority:      p.Priority,
		Region:        models.Region{State: p.State, City: p.City},
		Contact:       p.Contact,
		Notes:         p.Notes,
	}
	switch {
	case p.Lat != nil && p.Lon != nil:
		in.Location = &models.Coord{Lat: *p.Lat, Lon: *p.Lon}
	case p.Lat != nil || p.Lon != nil:
		s.writeError(w, r, apperr.Validation("lat and lon must be given together"))
		return
	}
	req, err := s.Requests.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type statusPayload struct {
	Status  string `json:"status" validate:"required"`
	DonorID string `json:"donorId"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var p statusPayload
	if !s.decode(w, r, &p) {
		return
	}
	to, err := models.ParseStatus(p.Status)
	if err != nil {
		s.writeError(w, r, apperr.Invalid("invalid status", err))
		return
	}
	req, err := s.Lifecycle.UpdateStatus(r.Context(), mux.Vars(r)["id"], to, strings.TrimSpace(p.DonorID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListForParty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := models.ParsePartyKind(vars["kind"])
	if err != nil {
		s.writeError(w, r, apperr.Invalid("invalid party kind", err))
		return
	}
	list, err := s.Requests.ListForParty(r.Context(), kind, vars["userId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMatchDonors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	group, err := models.ParseBloodGroup(q.Get("bloodGroup"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid("invalid blood group", err))
		return
	}
	donors, err := s.Matcher.MatchDonors(r.Context(), group, models.Region{State: q.Get("state"), City: q.Get("city")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, donors)
}

func (s *Server) handleMatchHospitals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	group, err := models.ParseBloodGroup(q.Get("bloodGroup"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid("invalid blood group", err))
		return
	}
	query := matcher.HospitalQuery{Region: models.Region{State: q.Get("state"), City: q.Get("city")}}
	lat, lon := q.Get("lat"), q.Get("lon")
	if lat != "" || lon != "" {
		near, err := parseCoord(lat, lon)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		query.Near = near
	}
	hs, err := s.Matcher.MatchHospitals(r.Context(), group, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := s.Lifecycle.DonorEligibility(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type locationPayload struct {
	Lat *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lon *float64 `json:"lon" validate:"required,min=-180,max=180"`
}

func (s *Server) handleHospitalLocation(w http.ResponseWriter, r *http.Request) {
	var p locationPayload
	if !s.decode(w, r, &p) {
		return
	}
	res, err := s.Hospitals.UpdateLocation(r.Context(), mux.Vars(r)["id"], models.Coord{Lat: *p.Lat, Lon: *p.Lon})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type stockPayload struct {
	BloodGroup string `json:"bloodGroup" validate:"required"`
	Delta      int    `json:"delta" validate:"ne=0"`
}

func (s *Server) handleRestock(w http.ResponseWriter, r *http.Request) {
	var p stockPayload
	if !s.decode(w, r, &p) {
		return
	}
	group, err := models.ParseBloodGroup(p.BloodGroup)
	if err != nil {
		s.writeError(w, r, apperr.Invalid("invalid blood group", err))
		return
	}
	id := mux.Vars(r)["id"]
	units, err := s.Hospitals.Restock(r.Context(), id, group, p.Delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hospitalId": id, "bloodGroup": group, "units": units})
}

func parseCoord(lat, lon string) (*models.Coord, error) {
	if lat == "" || lon == "" {
		return nil, apperr.Validation("lat and lon must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, apperr.Invalid("invalid lat", err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, apperr.Invalid("invalid lon", err)
	}
	return &models.Coord{Lat: la, Lon: lo}, nil
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, apperr.Invalid("malformed JSON body", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, validationError(err))
		return false
	}
	return true
}
