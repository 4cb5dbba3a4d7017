package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestNextEligibleAddsNinetyDays(t *testing.T) {
	last := day(2024, 1, 1)
	next := NextEligible(&last, nil)
	require.NotNil(t, next)
	assert.Equal(t, day(2024, 3, 31), *next)
}

func TestNextEligiblePrefersLastDonation(t *testing.T) {
	last := day(2024, 1, 1)
	fulfilled := day(2024, 6, 1)
	assert.Equal(t, day(2024, 3, 31), *NextEligible(&last, &fulfilled))
	assert.Equal(t, day(2024, 8, 30), *NextEligible(nil, &fulfilled))
}

func TestNextEligibleWithoutHistory(t *testing.T) {
	assert.Nil(t, NextEligible(nil, nil))
}

func TestEvaluate(t *testing.T) {
	last := day(2024, 1, 1)

	e := Evaluate("d1", &last, nil, day(2024, 2, 1))
	assert.False(t, e.IsEligible)
	assert.Equal(t, day(2024, 3, 31), *e.NextEligibleDate)
	assert.Equal(t, 59, e.DaysRemaining)

	e = Evaluate("d1", &last, nil, day(2024, 3, 31))
	assert.True(t, e.IsEligible)
	assert.Zero(t, e.DaysRemaining)

	e = Evaluate("d1", nil, nil, day(2024, 3, 31))
	assert.True(t, e.IsEligible)
	assert.Nil(t, e.LastDonation)
}

func TestEvaluateReportsFallbackAsLastDonation(t *testing.T) {
	fulfilled := day(2024, 1, 10)
	e := Evaluate("d1", nil, &fulfilled, day(2024, 1, 20))
	require.NotNil(t, e.LastDonation)
	assert.Equal(t, fulfilled, *e.LastDonation)
	assert.False(t, e.IsEligible)
}
