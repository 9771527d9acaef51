package route

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Provider resolves an ordered waypoint sequence between two points.
type Provider interface {
	GetRoute(ctx context.Context, from, to models.Coord) ([]models.Coord, error)
}

// StraightLine returns the two-point route used whenever road routing is
// unavailable.
func StraightLine(from, to models.Coord) []models.Coord {
	return []models.Coord{from, to}
}

// maxWaypoints bounds how many polyline points a leg keeps; enough to follow
// turns without making simulations crawl.
const maxWaypoints = 20

// Downsample reduces a dense polyline to at most maxWaypoints points,
// always keeping the endpoints.
func Downsample(points []models.Coord) []models.Coord {
	if len(points) <= maxWaypoints {
		return points
	}
	out := make([]models.Coord, 0, maxWaypoints)
	out = append(out, points[0])
	for i := 1; i < maxWaypoints-1; i++ {
		idx := int(float64(i) / float64(maxWaypoints-1) * float64(len(points)-1))
		out = append(out, points[idx])
	}
	out = append(out, points[len(points)-1])
	return out
}

// WithFallback wraps a provider so routing failures degrade to a straight
// two-point line instead of surfacing.
type WithFallback struct {
	Inner Provider
}

func (w WithFallback) GetRoute(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	if w.Inner == nil {
		return StraightLine(from, to), nil
	}
	pts, err := w.Inner.GetRoute(ctx, from, to)
	if err != nil || len(pts) < 2 {
		return StraightLine(from, to), nil
	}
	return pts, nil
}
