package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/blood-matching/internal/models"
)

// Geo indexes hospital coordinates for proximity search.
type Geo interface {
	Nearby(ctx context.Context, lat, lon, radiusM float64) ([]Hit, error)
	Upsert(ctx context.Context, id string, loc models.Coord) error
}

// Hit is one indexed point within the search radius.
type Hit struct {
	ID        string
	Loc       models.Coord
	DistanceM float64
}

type Index struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.Coord)}
}

func (g *Index) Upsert(_ context.Context, id string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = loc
	return nil
}

// Nearby returns points within radiusM, closest first.
// naive scan; fine for the few thousand hospitals a deployment carries
func (g *Index) Nearby(_ context.Context, lat, lon, radiusM float64) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Hit, 0)
	for id, p := range g.points {
		dist := Haversine(lat, lon, p.Lat, p.Lon)
		if dist <= radiusM {
			out = append(out, Hit{ID: id, Loc: p, DistanceM: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceM == out[j].DistanceM {
			return out[i].ID < out[j].ID
		}
		return out[i].DistanceM < out[j].DistanceM
	})
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// ValidCoord reports whether c is a real latitude/longitude pair.
func ValidCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}
