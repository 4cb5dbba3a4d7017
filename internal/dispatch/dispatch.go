package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/blood-matching/internal/models"
	"github.com/example/blood-matching/internal/observability"
)

// Recipient is a party a request should be announced to.
type Recipient struct {
	Kind models.PartyKind `json:"kind"`
	ID   string           `json:"id"`
	Name string           `json:"name,omitempty"`
}

// Notifier announces requests and their status changes.
type Notifier interface {
	RequestCreated(ctx context.Context, r *models.BloodRequest, to []Recipient) error
	StatusChanged(ctx context.Context, r *models.BloodRequest, from models.Status) error
}

// LogNotifier records who would be notified. There is no delivery transport.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) RequestCreated(ctx context.Context, r *models.BloodRequest, to []Recipient) error {
	for _, rc := range to {
		n.Logger.InfoContext(ctx, "notify",
			"event", "request.created",
			"request_id", r.ID,
			"blood_group", r.BloodGroup,
			"units", r.Units,
			"priority", r.Priority,
			"recipient_kind", rc.Kind,
			"recipient_id", rc.ID,
		)
	}
	observability.NotificationsLogged.Add(float64(len(to)))
	if len(to) == 0 {
		n.Logger.WarnContext(ctx, "no recipients matched", "request_id", r.ID, "blood_group", r.BloodGroup, "state", r.Region.State)
	}
	return nil
}

// StatusChanged tells the requester what happened to their request.
func (n *LogNotifier) StatusChanged(ctx context.Context, r *models.BloodRequest, from models.Status) error {
	n.Logger.InfoContext(ctx, "notify",
		"event", "request.status_changed",
		"request_id", r.ID,
		"from", from,
		"to", r.Status,
		"recipient_kind", r.RequesterKind,
		"recipient_id", r.RequesterID,
		"donor_id", r.DonorID,
	)
	observability.NotificationsLogged.Inc()
	return nil
}
