package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
)

// Geocoder resolves coordinates to a human-readable address.
type Geocoder interface {
	Geocode(ctx context.Context, c models.Coord) (string, error)
}

// Google reverse-geocodes via the Maps API.
type Google struct {
	client *maps.Client
}

func NewGoogle(apiKey string) (*Google, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &Google{client: c}, nil
}

func (g *Google) Geocode(ctx context.Context, c models.Coord) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: c.Lat, Lng: c.Lng},
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("reverse geocode: no results")
	}
	return results[0].FormattedAddress, nil
}

// Resolve returns the address for c, falling back to a coordinate string when
// the geocoder is absent or fails. Failures never surface.
func Resolve(ctx context.Context, g Geocoder, c models.Coord) string {
	if g != nil {
		if addr, err := g.Geocode(ctx, c); err == nil && addr != "" {
			return addr
		}
	}
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}
