package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/blood-matching/internal/models"
)

func TestHaversineZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(0, 0, 0, 0))
}

func TestHaversineDelhiToMumbai(t *testing.T) {
	d := Haversine(28.6139, 77.2090, 19.0760, 72.8777)
	assert.InDelta(t, 1_148_000, d, 10_000)
}

func TestIndexNearbyFiltersByRadiusAndSorts(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	aiims := models.Coord{Lat: 28.5672, Lon: 77.2100}
	require.NoError(t, idx.Upsert(ctx, "far", models.Coord{Lat: 19.0, Lon: 72.8}))
	require.NoError(t, idx.Upsert(ctx, "near", models.Coord{Lat: 28.5700, Lon: 77.2100}))
	require.NoError(t, idx.Upsert(ctx, "here", aiims))

	hits, err := idx.Nearby(ctx, aiims.Lat, aiims.Lon, 5000)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "here", hits[0].ID)
	assert.Equal(t, "near", hits[1].ID)
	assert.Less(t, hits[1].DistanceM, 5000.0)
}

func TestIndexUpsertMovesPoint(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, "h1", models.Coord{Lat: 0, Lon: 0}))
	require.NoError(t, idx.Upsert(ctx, "h1", models.Coord{Lat: 10, Lon: 10}))

	hits, err := idx.Nearby(ctx, 0, 0, 5000)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestValidCoord(t *testing.T) {
	assert.True(t, ValidCoord(models.Coord{Lat: 28.6, Lon: 77.2}))
	assert.False(t, ValidCoord(models.Coord{Lat: 91, Lon: 0}))
	assert.False(t, ValidCoord(models.Coord{Lat: 0, Lon: -181}))
}
