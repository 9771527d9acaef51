package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// FleetMirror keeps a Redis GEO copy of the fleet's last known positions.
// It is a read-optimized mirror fed by telemetry; the VehicleStore stays the
// source of truth.
type FleetMirror struct {
	client *redis.Client
	key    string
}

func NewFleetMirror(addr, password, key string) *FleetMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &FleetMirror{client: c, key: key}
}

func (m *FleetMirror) Upsert(ctx context.Context, t models.Telemetry) error {
	if _, err := m.client.GeoAdd(ctx, m.key, &redis.GeoLocation{Longitude: t.Lng, Latitude: t.Lat, Name: t.VehicleID}).Result(); err != nil {
		return err
	}
	return m.client.HSet(ctx, metaKey(t.VehicleID), map[string]interface{}{
		"battery": fmt.Sprintf("%.1f", t.Battery),
		"status":  string(t.Status),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

// Nearby returns vehicles within radiusM meters of the point, nearest first.
func (m *FleetMirror) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.Vehicle, error) {
	res, err := m.client.GeoRadius(ctx, m.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Vehicle, 0, len(res))
	for _, g := range res {
		v := models.Vehicle{ID: g.Name, Location: models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if meta, err := m.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if b, ok := meta["battery"]; ok {
				if f, err := strconv.ParseFloat(b, 64); err == nil {
					v.Battery = f
				}
			}
			if s, ok := meta["status"]; ok {
				v.Status = models.VehicleStatus(s)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *FleetMirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *FleetMirror) Close() error { return m.client.Close() }

func metaKey(id string) string { return "vehicle:meta:" + id }
