package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a blood request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
)

var statusAliases = map[string]Status{
	"pending":    StatusPending,
	"approved":   StatusApproved,
	"accepted":   StatusApproved,
	"rejected":   StatusRejected,
	"declined":   StatusRejected,
	"delivering": StatusDelivering,
	"completed":  StatusCompleted,
}

// ParseStatus maps the accepted spellings onto the canonical status.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected},
	StatusApproved:   {StatusDelivering, StatusCompleted, StatusRejected},
	StatusDelivering: {StatusCompleted},
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusRejected || s == StatusCompleted }

// Fulfilling statuses are the ones that count as a donation for cooldown purposes.
func (s Status) Fulfilling() bool {
	return s == StatusApproved || s == StatusDelivering || s == StatusCompleted
}

// Bounds on unit counts. Both sit well inside the 32-bit columns that hold them.
const (
	MaxRequestUnits = 1000
	MaxStockDelta   = 100000
)

// RequestType selects the matching rule set.
type RequestType string

const (
	// TypeBroadcast requests are not aimed at anyone; they are matched against the donor pool.
	TypeBroadcast RequestType = "patient"
	TypeDonor     RequestType = "donor"
	TypeHospital  RequestType = "hospital"
)

type PartyKind string

const (
	PartyPatient  PartyKind = "patient"
	PartyDonor    PartyKind = "donor"
	PartyHospital PartyKind = "hospital"
)

func ParsePartyKind(s string) (PartyKind, error) {
	switch k := PartyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case PartyPatient, PartyDonor, PartyHospital:
		return k, nil
	}
	return "", fmt.Errorf("unknown party kind %q", s)
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority defaults an empty value to normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityNormal, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type BloodRequest struct {
	ID            string      `json:"id"`
	Type          RequestType `json:"type"`
	RequesterID   string      `json:"requesterId"`
	RequesterKind PartyKind   `json:"requesterKind"`
	RequesterName string      `json:"requesterName,omitempty"`
	TargetKind    PartyKind   `json:"targetKind,omitempty"`
	TargetID      string      `json:"targetId,omitempty"`
	TargetName    string      `json:"targetName,omitempty"`
	BloodGroup    BloodGroup  `json:"bloodGroup"`
	Units         int         `json:"units"`
	Status        Status      `json:"status"`
	Priority      Priority    `json:"priority"`
	Region        Region      `json:"region"`
	Location      *Coord      `json:"location,omitempty"`
	DonorID       string      `json:"donorId,omitempty"`
	DonorName     string      `json:"donorName,omitempty"`
	PaymentRef    string      `json:"paymentRef,omitempty"`
	Contact       string      `json:"contact,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Clone returns a copy that shares nothing mutable with r.
func (r *BloodRequest) Clone() *BloodRequest {
	c := *r
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	return &c
}

// RequestEvent is published whenever a request is created or changes status.
type RequestEvent struct {
	Type      string        `json:"type"` // request.created, request.status_changed
	RequestID string        `json:"request_id"`
	From      Status        `json:"from,omitempty"`
	To        Status        `json:"to"`
	Request   *BloodRequest `json:"request"`
	At        time.Time     `json:"at"`
}

// HospitalLocation is the payload carried on the hospital location topic.
type HospitalLocation struct {
	HospitalID string    `json:"hospital_id"`
	Loc        Coord     `json:"loc"`
	Updated    time.Time `json:"updated"`
}
