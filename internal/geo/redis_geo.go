package geo

import (
	"context"
	"time"

	"github.com/example/blood-matching/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, id string, loc models.Coord) error {
	// GEOADD for the point, a hash for when it last moved
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: id}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, MetaKey(id), map[string]interface{}{"updated": time.Now().UTC().Format(time.RFC3339)}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lon, radiusM float64) ([]Hit, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}, DistanceM: g.Dist})
	}
	return out, nil
}

func MetaKey(id string) string { return "hospital:geo:meta:" + id }
