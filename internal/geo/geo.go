package geo

import (
	"errors"
	"fmt"

	"github.com/tidwall/geodesic"

	"wemeet/internal/models"
)

// ErrInvalidCoordinate indicates a latitude or longitude outside the valid range
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Validate checks that a location holds a well-formed coordinate pair:
// latitude in [-90, 90] and longitude in [-180, 180].
func Validate(loc models.Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidCoordinate, loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinate, loc.Longitude)
	}
	return nil
}

// Distance returns the geodesic distance between two locations in kilometers,
// computed on the WGS-84 ellipsoid. An ellipsoidal solution is used rather
// than great-circle haversine to stay accurate at real-world scales.
func Distance(a, b models.Location) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}

	var meters float64
	geodesic.WGS84.Inverse(a.Latitude, a.Longitude, b.Latitude, b.Longitude, &meters, nil, nil)
	return meters / 1000, nil
}

// WithinRadius reports whether b lies within radiusKm kilometers of a.
func WithinRadius(a, b models.Location, radiusKm float64) (bool, error) {
	d, err := Distance(a, b)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}
