package geo

import (
	"errors"
	"math"
	"testing"

	"wemeet/internal/models"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		loc     models.Location
		wantErr bool
	}{
		{"valid coordinate", models.Location{Latitude: 55.45, Longitude: 37.742}, false},
		{"equator and prime meridian", models.Location{Latitude: 0, Longitude: 0}, false},
		{"latitude at north pole", models.Location{Latitude: 90, Longitude: 0}, false},
		{"longitude at antimeridian", models.Location{Latitude: 0, Longitude: -180}, false},
		{"latitude too high", models.Location{Latitude: 90.1, Longitude: 0}, true},
		{"latitude too low", models.Location{Latitude: -91, Longitude: 0}, true},
		{"longitude too high", models.Location{Latitude: 0, Longitude: 180.5}, true},
		{"longitude too low", models.Location{Latitude: 0, Longitude: -181}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.loc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("Expected ErrInvalidCoordinate, got %v", err)
			}
		})
	}
}

func TestDistance_SamePointIsZero(t *testing.T) {
	loc := models.Location{Latitude: 55.45, Longitude: 37.742}

	d, err := Distance(loc, loc)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if d != 0 {
		t.Errorf("Expected zero distance, got %v", d)
	}
}

func TestDistance_Symmetry(t *testing.T) {
	a := models.Location{Latitude: 10.0, Longitude: 10.0}
	b := models.Location{Latitude: 10.027, Longitude: 10.0}

	ab, err := Distance(a, b)
	if err != nil {
		t.Fatalf("Distance(a, b) failed: %v", err)
	}
	ba, err := Distance(b, a)
	if err != nil {
		t.Fatalf("Distance(b, a) failed: %v", err)
	}
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("Expected symmetric distances, got %v and %v", ab, ba)
	}
}

func TestDistance_KnownSeparations(t *testing.T) {
	tests := []struct {
		name    string
		a, b    models.Location
		minKm   float64
		maxKm   float64
	}{
		{
			// One degree of longitude along the equator is ~111.32 km on WGS-84.
			name:  "one degree longitude at equator",
			a:     models.Location{Latitude: 0, Longitude: 0},
			b:     models.Location{Latitude: 0, Longitude: 1},
			minKm: 111.1,
			maxKm: 111.5,
		},
		{
			// One degree of latitude at the equator is ~110.57 km.
			name:  "one degree latitude at equator",
			a:     models.Location{Latitude: 0, Longitude: 0},
			b:     models.Location{Latitude: 1, Longitude: 0},
			minKm: 110.4,
			maxKm: 110.8,
		},
		{
			name:  "small offset near latitude 10",
			a:     models.Location{Latitude: 10.0, Longitude: 10.0},
			b:     models.Location{Latitude: 10.01, Longitude: 10.01},
			minKm: 1.4,
			maxKm: 1.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Distance(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Distance failed: %v", err)
			}
			if d < tt.minKm || d > tt.maxKm {
				t.Errorf("Expected distance in [%v, %v] km, got %v", tt.minKm, tt.maxKm, d)
			}
		})
	}
}

func TestDistance_RejectsInvalidCoordinates(t *testing.T) {
	good := models.Location{Latitude: 10, Longitude: 10}
	bad := models.Location{Latitude: 95, Longitude: 10}

	if _, err := Distance(bad, good); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Expected ErrInvalidCoordinate for first argument, got %v", err)
	}
	if _, err := Distance(good, bad); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Expected ErrInvalidCoordinate for second argument, got %v", err)
	}
}

func TestWithinRadius_MatchesDistance(t *testing.T) {
	a := models.Location{Latitude: 10.0, Longitude: 10.0}
	b := models.Location{Latitude: 10.01, Longitude: 10.01}

	d, err := Distance(a, b)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}

	for _, radius := range []float64{d - 0.1, d, d + 0.1} {
		within, err := WithinRadius(a, b, radius)
		if err != nil {
			t.Fatalf("WithinRadius failed: %v", err)
		}
		if within != (d <= radius) {
			t.Errorf("WithinRadius(%v) = %v, want %v", radius, within, d <= radius)
		}
	}
}
