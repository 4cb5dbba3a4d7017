package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/example/blood-matching/internal/geo"
	"github.com/example/blood-matching/internal/models"
)

// Seed is a directory snapshot normalized to the canonical model.
type Seed struct {
	Patients  []*models.Patient
	Donors    []*models.Donor
	Hospitals []*models.Hospital
}

// Older exports disagree on shape: ids may be numbers, stock may be flat
// counts or {"units": n} objects under "blood" or "bloodStock", location may
// be GeoJSON or flat lat/lon, and city may be called district.
type seedDoc struct {
	Patients  []seedParty    `json:"patients"`
	Donors    []seedParty    `json:"donors"`
	Hospitals []seedHospital `json:"hospitals"`
}

type seedParty struct {
	ID           json.RawMessage `json:"id"`
	MongoID      json.RawMessage `json:"_id"`
	Name         string          `json:"name"`
	FullName     string          `json:"fullName"`
	Email        string          `json:"email"`
	BloodGroup   string          `json:"bloodGroup"`
	State        string          `json:"state"`
	City         string          `json:"city"`
	District     string          `json:"district"`
	Contact      string          `json:"contactInfo"`
	Availability string          `json:"availabilityStatus"`
	LastDonation string          `json:"lastDonation"`
}

type seedHospital struct {
	ID                  json.RawMessage `json:"id"`
	MongoID             json.RawMessage `json:"_id"`
	Name                string          `json:"name"`
	Email               string          `json:"email"`
	State               string          `json:"state"`
	City                string          `json:"city"`
	District            string          `json:"district"`
	Address             string          `json:"address"`
	Contact             string          `json:"contact"`
	Location            json.RawMessage `json:"location"`
	Lat                 *float64        `json:"lat"`
	Lon                 *float64        `json:"lon"`
	Blood               json.RawMessage `json:"blood"`
	BloodStock          json.RawMessage `json:"bloodStock"`
	LocationUpdatesLeft *int            `json:"locationUpdatesLeft"`
}

// DecodeSeed reads a seed document. Hospitals without an explicit counter get
// locationUpdates self-service location changes.
func DecodeSeed(r io.Reader, locationUpdates int) (*Seed, error) {
	var doc seedDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	out := &Seed{}
	for i, p := range doc.Patients {
		id, err := decodeID(p.ID, p.MongoID)
		if err != nil {
			return nil, fmt.Errorf("patient %d: %w", i, err)
		}
		pt := &models.Patient{ID: id, Name: p.displayName(), Email: p.Email, Region: p.region(), Contact: p.Contact}
		if p.BloodGroup != "" {
			if pt.BloodGroup, err = models.ParseBloodGroup(p.BloodGroup); err != nil {
				return nil, fmt.Errorf("patient %s: %w", id, err)
			}
		}
		out.Patients = append(out.Patients, pt)
	}
	for i, p := range doc.Donors {
		d, err := p.donor()
		if err != nil {
			return nil, fmt.Errorf("donor %d: %w", i, err)
		}
		out.Donors = append(out.Donors, d)
	}
	for i, h := range doc.Hospitals {
		hosp, err := h.hospital(locationUpdates)
		if err != nil {
			return nil, fmt.Errorf("hospital %d: %w", i, err)
		}
		out.Hospitals = append(out.Hospitals, hosp)
	}
	return out, nil
}

// Apply upserts every record into dir.
func (s *Seed) Apply(ctx context.Context, dir Directory) error {
	for _, p := range s.Patients {
		if err := dir.UpsertPatient(ctx, p); err != nil {
			return err
		}
	}
	for _, d := range s.Donors {
		if err := dir.UpsertDonor(ctx, d); err != nil {
			return err
		}
	}
	for _, h := range s.Hospitals {
		if err := dir.UpsertHospital(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (p seedParty) displayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.FullName
}

func (p seedParty) region() models.Region {
	city := p.City
	if city == "" {
		city = p.District
	}
	return models.Region{State: strings.TrimSpace(p.State), City: strings.TrimSpace(city)}
}

func (p seedParty) donor() (*models.Donor, error) {
	id, err := decodeID(p.ID, p.MongoID)
	if err != nil {
		return nil, err
	}
	group, err := models.ParseBloodGroup(p.BloodGroup)
	if err != nil {
		return nil, fmt.Errorf("donor %s: %w", id, err)
	}
	d := &models.Donor{
		ID:           id,
		Name:         p.displayName(),
		Email:        p.Email,
		BloodGroup:   group,
		Region:       p.region(),
		Availability: models.Available,
	}
	switch strings.ToLower(strings.TrimSpace(p.Availability)) {
	case "", string(models.Available):
	case string(models.Unavailable):
		d.Availability = models.Unavailable
	default:
		return nil, fmt.Errorf("donor %s: unknown availability %q", id, p.Availability)
	}
	if p.LastDonation != "" {
		t, err := parseSeedTime(p.LastDonation)
		if err != nil {
			return nil, fmt.Errorf("donor %s: %w", id, err)
		}
		d.LastDonation = &t
	}
	return d, nil
}

func (h seedHospital) hospital(locationUpdates int) (*models.Hospital, error) {
	id, err := decodeID(h.ID, h.MongoID)
	if err != nil {
		return nil, err
	}
	city := h.City
	if city == "" {
		city = h.District
	}
	out := &models.Hospital{
		ID:                  id,
		Name:                h.Name,
		Email:               h.Email,
		Region:              models.Region{State: strings.TrimSpace(h.State), City: strings.TrimSpace(city)},
		Address:             h.Address,
		Contact:             h.Contact,
		LocationUpdatesLeft: locationUpdates,
	}
	if h.LocationUpdatesLeft != nil {
		out.LocationUpdatesLeft = *h.LocationUpdatesLeft
	}
	if out.Location, err = decodeLocation(h.Location); err != nil {
		return nil, fmt.Errorf("hospital %s: %w", id, err)
	}
	if out.Location == nil && h.Lat != nil && h.Lon != nil {
		out.Location = &models.Coord{Lat: *h.Lat, Lon: *h.Lon}
	}
	if out.Location != nil && !geo.ValidCoord(*out.Location) {
		return nil, fmt.Errorf("hospital %s: location out of range: %v,%v", id, out.Location.Lat, out.Location.Lon)
	}
	raw := h.BloodStock
	if len(raw) == 0 {
		raw = h.Blood
	}
	if out.BloodStock, err = DecodeStock(raw); err != nil {
		return nil, fmt.Errorf("hospital %s: %w", id, err)
	}
	return out, nil
}

// DecodeStock accepts both {"A+": 3} and {"A+": {"units": 3}}.
func DecodeStock(raw json.RawMessage) (map[models.BloodGroup]int, error) {
	out := make(map[models.BloodGroup]int)
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("blood stock: %w", err)
	}
	for k, v := range entries {
		group, err := models.ParseBloodGroup(k)
		if err != nil {
			return nil, fmt.Errorf("blood stock: %w", err)
		}
		var units int
		if err := json.Unmarshal(v, &units); err != nil {
			var obj struct {
				Units *int `json:"units"`
			}
			if err := json.Unmarshal(v, &obj); err != nil || obj.Units == nil {
				return nil, fmt.Errorf("blood stock %s: unsupported value %s", group, string(v))
			}
			units = *obj.Units
		}
		if units < 0 {
			return nil, fmt.Errorf("blood stock %s: negative units %d", group, units)
		}
		out[group] = units
	}
	return out, nil
}

// decodeLocation accepts GeoJSON points ([lon, lat]) and {"lat","lon"} objects.
func decodeLocation(raw json.RawMessage) (*models.Coord, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	var pt struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
		Lat         *float64  `json:"lat"`
		Lon         *float64  `json:"lon"`
	}
	if err := json.Unmarshal(raw, &pt); err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	switch {
	case len(pt.Coordinates) == 2:
		return &models.Coord{Lat: pt.Coordinates[1], Lon: pt.Coordinates[0]}, nil
	case pt.Lat != nil && pt.Lon != nil:
		return &models.Coord{Lat: *pt.Lat, Lon: *pt.Lon}, nil
	}
	return nil, fmt.Errorf("location: unsupported shape %s", string(raw))
}

func decodeID(raws ...json.RawMessage) (string, error) {
	for _, raw := range raws {
		if len(raw) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, nil
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				return n.String(), nil
			}
		}
		var oid struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(raw, &oid); err == nil && oid.OID != "" {
			return oid.OID, nil
		}
	}
	return "", fmt.Errorf("missing id")
}

func parseSeedTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
