package route

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
)

// GoogleProvider resolves road-following routes via the Directions API and
// decodes the overview polyline into waypoints.
type GoogleProvider struct {
	client *maps.Client
}

func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleProvider{client: c}, nil
}

func (g *GoogleProvider) GetRoute(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", from.Lat, from.Lng),
		Destination: fmt.Sprintf("%f,%f", to.Lat, to.Lng),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("directions: no route")
	}
	decoded, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("polyline decode: %w", err)
	}
	pts := make([]models.Coord, 0, len(decoded))
	for _, p := range decoded {
		pts = append(pts, models.Coord{Lat: p.Lat, Lng: p.Lng})
	}
	return Downsample(pts), nil
}
