package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisDirectory implements Directory on Redis GEO commands plus a per-worker
// metadata hash. Positions live in one GEO set; availability, heading, speed
// and display info live in `worker:meta:<id>`.
type RedisDirectory struct {
	client *redis.Client
	key    string
}

func NewRedisDirectory(client *redis.Client, key string) *RedisDirectory {
	return &RedisDirectory{client: client, key: key}
}

func (r *RedisDirectory) UpsertLocation(ctx context.Context, loc models.WorkerLocation) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Loc.Lon,
		Latitude:  loc.Loc.Lat,
		Name:      loc.WorkerID,
	}).Result(); err != nil {
		return fmt.Errorf("%w: geoadd: %v", ErrUnavailable, err)
	}
	meta := map[string]interface{}{
		"available": strconv.FormatBool(loc.Available),
		"updated":   time.Now().UTC().Format(time.RFC3339),
	}
	if loc.Heading != nil {
		meta["heading"] = fmt.Sprintf("%f", *loc.Heading)
	}
	if loc.Speed != nil {
		meta["speed"] = fmt.Sprintf("%f", *loc.Speed)
	}
	if err := r.client.HSet(ctx, metaKey(loc.WorkerID), meta).Err(); err != nil {
		return fmt.Errorf("%w: hset: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisDirectory) SetAvailability(ctx context.Context, workerID string, available bool) error {
	err := r.client.HSet(ctx, metaKey(workerID), map[string]interface{}{
		"available": strconv.FormatBool(available),
		"updated":   time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: hset: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisDirectory) FindAvailableWithinRadius(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Candidate, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: georadius: %v", ErrUnavailable, err)
	}
	out := make([]models.Candidate, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: hgetall: %v", ErrUnavailable, err)
		}
		if m["available"] != "true" {
			continue
		}
		c := models.Candidate{
			WorkerID: g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			Distance: g.Dist, // follows the query unit, meters
		}
		if v, ok := m["updated"]; ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				c.Updated = t
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisDirectory) WorkerPosition(ctx context.Context, workerID string) (models.Coord, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, workerID).Result()
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("%w: geopos: %v", ErrUnavailable, err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false, nil
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, true, nil
}

func (r *RedisDirectory) SetProfile(ctx context.Context, p models.WorkerProfile) error {
	err := r.client.HSet(ctx, metaKey(p.WorkerID), map[string]interface{}{
		"name":    p.Name,
		"phone":   p.Phone,
		"vehicle": p.Vehicle,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: hset: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisDirectory) Profile(ctx context.Context, workerID string) (models.WorkerProfile, error) {
	m, err := r.client.HGetAll(ctx, metaKey(workerID)).Result()
	if err != nil {
		return models.WorkerProfile{WorkerID: workerID}, fmt.Errorf("%w: hgetall: %v", ErrUnavailable, err)
	}
	return models.WorkerProfile{
		WorkerID: workerID,
		Name:     m["name"],
		Phone:    m["phone"],
		Vehicle:  m["vehicle"],
	}, nil
}

func metaKey(id string) string { return "worker:meta:" + id }
