package presence

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/servicebook/internal/geo"
)

// Geocoder resolves a human readable address for a coordinate.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p geo.Point) (string, error)
}

// MapsGeocoder reverse geocodes with the Google Maps Geocoding API.
type MapsGeocoder struct {
	client *maps.Client
}

// NewMapsGeocoder creates a geocoder with the given API key.
func NewMapsGeocoder(apiKey string) (*MapsGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsGeocoder{client: client}, nil
}

func (g *MapsGeocoder) ReverseGeocode(ctx context.Context, p geo.Point) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("maps reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address for %.6f,%.6f", p.Lat, p.Lng)
	}
	return results[0].FormattedAddress, nil
}
