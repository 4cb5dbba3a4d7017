package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("donor", "d1")))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("wrapped: %w", Validation("bad %d", 1))))
	assert.Equal(t, KindStorage, KindOf(errors.New("boom")))
}

func TestStorageWrapping(t *testing.T) {
	assert.NoError(t, Storage("get", nil))

	err := Storage("get request", sql.ErrConnDone)
	assert.True(t, Is(err, KindStorage))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, "get request: sql: connection is already closed", err.Error())

	nf := NotFound("request", "r1")
	assert.Same(t, nf, Storage("list", nf))
}

func TestDetailFields(t *testing.T) {
	var ae *Error
	require.ErrorAs(t, InsufficientStock("h1", "O+", 3, 5), &ae)
	assert.Equal(t, 3, *ae.Available)
	assert.Contains(t, ae.Error(), "3 unit(s) of O+")

	next := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	require.ErrorAs(t, NotEligible("d1", next), &ae)
	assert.Equal(t, next, *ae.NextEligible)
	assert.Contains(t, ae.Error(), "2024-03-31")
}
