package models

import (
	"fmt"
	"strings"
	"time"
)

// BloodGroup is one of the eight ABO/Rh types.
type BloodGroup string

const (
	APos  BloodGroup = "A+"
	ANeg  BloodGroup = "A-"
	BPos  BloodGroup = "B+"
	BNeg  BloodGroup = "B-"
	ABPos BloodGroup = "AB+"
	ABNeg BloodGroup = "AB-"
	OPos  BloodGroup = "O+"
	ONeg  BloodGroup = "O-"
)

// BloodGroups lists every canonical group in display order.
var BloodGroups = []BloodGroup{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// ParseBloodGroup accepts any casing and surrounding whitespace.
func ParseBloodGroup(s string) (BloodGroup, error) {
	g := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range BloodGroups {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown blood group %q", s)
}

// RhPositive reports whether the group carries the Rh factor.
func (g BloodGroup) RhPositive() bool { return strings.HasSuffix(string(g), "+") }

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Region is the administrative location model. State is the primary key,
// City narrows it when present.
type Region struct {
	State string `json:"state"`
	City  string `json:"city,omitempty"`
}

func (r Region) Empty() bool { return strings.TrimSpace(r.State) == "" }

// Contains reports whether other lies within r. Comparison ignores case.
func (r Region) Contains(other Region) bool {
	if !strings.EqualFold(strings.TrimSpace(r.State), strings.TrimSpace(other.State)) {
		return false
	}
	if r.City == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.City), strings.TrimSpace(other.City))
}

type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

type Patient struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	BloodGroup BloodGroup `json:"bloodGroup,omitempty"`
	Region     Region     `json:"region"`
	Contact    string     `json:"contact,omitempty"`
}

type Donor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	BloodGroup   BloodGroup   `json:"bloodGroup"`
	Region       Region       `json:"region"`
	Availability Availability `json:"availability"`
	LastDonation *time.Time   `json:"lastDonation,omitempty"`
}

type Hospital struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Email               string             `json:"email"`
	Region              Region             `json:"region"`
	Address             string             `json:"address,omitempty"`
	Contact             string             `json:"contact,omitempty"`
	Location            *Coord             `json:"location,omitempty"`
	BloodStock          map[BloodGroup]int `json:"bloodStock"`
	LocationUpdatesLeft int                `json:"locationUpdatesLeft"`
}

// DonorSummary is what a match returns for a donor; contact details stay in the directory.
type DonorSummary struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	BloodGroup   BloodGroup `json:"bloodGroup"`
	Region       Region     `json:"region"`
	LastDonation *time.Time `json:"lastDonation,omitempty"`
}

type HospitalSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Region    Region   `json:"region"`
	Location  *Coord   `json:"location,omitempty"`
	Units     int      `json:"units"`
	DistanceM *float64 `json:"distanceMeters,omitempty"`
	Address   string   `json:"address,omitempty"`
	Contact   string   `json:"contact,omitempty"`
}

// Eligibility is the donor cooldown view shown on dashboards and used to gate acceptance.
type Eligibility struct {
	DonorID          string     `json:"donorId"`
	LastDonation     *time.Time `json:"lastDonation,omitempty"`
	NextEligibleDate *time.Time `json:"nextEligibleDate,omitempty"`
	IsEligible       bool       `json:"isEligible"`
	DaysRemaining    int        `json:"daysRemaining"`
}
