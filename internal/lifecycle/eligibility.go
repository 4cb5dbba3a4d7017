package lifecycle

import (
	"math"
	"time"

	"github.com/example/blood-matching/internal/models"
)

// CooldownDays is the minimum gap between two donations by the same donor.
const CooldownDays = 90

// NextEligible returns the earliest time the donor may give again, preferring
// the recorded last donation over the latest fulfilled request. Nil means the
// donor has no history and is eligible now.
func NextEligible(lastDonation, latestFulfilled *time.Time) *time.Time {
	base := lastDonation
	if base == nil {
		base = latestFulfilled
	}
	if base == nil {
		return nil
	}
	next := base.AddDate(0, 0, CooldownDays)
	return &next
}

// Evaluate builds the eligibility view for a donor at now.
func Evaluate(donorID string, lastDonation, latestFulfilled *time.Time, now time.Time) models.Eligibility {
	e := models.Eligibility{DonorID: donorID, LastDonation: lastDonation, IsEligible: true}
	if lastDonation == nil {
		e.LastDonation = latestFulfilled
	}
	next := NextEligible(lastDonation, latestFulfilled)
	if next == nil {
		return e
	}
	e.NextEligibleDate = next
	e.IsEligible = !now.Before(*next)
	if !e.IsEligible {
		e.DaysRemaining = int(math.Ceil(next.Sub(now).Hours() / 24))
	}
	return e
}
