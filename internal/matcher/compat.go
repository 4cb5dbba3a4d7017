package matcher

import "github.com/example/blood-matching/internal/models"

// IsCompatible is the single blood-group rule used for donor matching.
//
// A candidate qualifies on an exact match, when the request is for O- (every
// donor is offered O- requests), when the candidate is O- (O- donors see all
// requests), or when the request is O+ and the candidate is Rh-positive,
// which includes AB+.
func IsCompatible(requested, candidate models.BloodGroup) bool {
	switch {
	case requested == candidate:
		return true
	case requested == models.ONeg:
		return true
	case candidate == models.ONeg:
		return true
	case requested == models.OPos && candidate.RhPositive():
		return true
	}
	return false
}
