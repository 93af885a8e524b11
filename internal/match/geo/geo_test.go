package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/geo"
)

func TestDistanceKnownPairs(t *testing.T) {
	tests := []struct {
		name      string
		a, b      domain.Coordinate
		expected  float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         domain.Coordinate{Lat: 12.9716, Lng: 77.5946},
			b:         domain.Coordinate{Lat: 12.9716, Lng: 77.5946},
			expected:  0,
			tolerance: 0.001,
		},
		{
			name:      "bengaluru customer to mechanic",
			a:         domain.Coordinate{Lat: 12.9352, Lng: 77.6146},
			b:         domain.Coordinate{Lat: 12.9716, Lng: 77.5946},
			expected:  4.59,
			tolerance: 0.005,
		},
		{
			name:      "sf to oakland",
			a:         domain.Coordinate{Lat: 37.7749, Lng: -122.4194},
			b:         domain.Coordinate{Lat: 37.8044, Lng: -122.2712},
			expected:  13.43,
			tolerance: 0.05,
		},
		{
			name:      "nyc to la",
			a:         domain.Coordinate{Lat: 40.7128, Lng: -74.0060},
			b:         domain.Coordinate{Lat: 34.0522, Lng: -118.2437},
			expected:  3935.75,
			tolerance: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, ok := geo.Distance(&tt.a, &tt.b)
			require.True(t, ok)
			require.InDelta(t, tt.expected, km, tt.tolerance)
		})
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}
	b := domain.Coordinate{Lat: 12.9716, Lng: 77.5946}

	ab, ok := geo.Distance(&a, &b)
	require.True(t, ok)
	ba, ok := geo.Distance(&b, &a)
	require.True(t, ok)
	require.Equal(t, ab, ba)
}

func TestDistanceRoundedToTwoPlaces(t *testing.T) {
	a := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}
	b := domain.Coordinate{Lat: 12.9716, Lng: 77.5946}

	km, ok := geo.Distance(&a, &b)
	require.True(t, ok)
	require.Equal(t, km, math.Round(km*100)/100)
}

func TestDistanceUnavailableWhenCoordinateMissing(t *testing.T) {
	a := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}

	_, ok := geo.Distance(&a, nil)
	require.False(t, ok)
	_, ok = geo.Distance(nil, &a)
	require.False(t, ok)
	_, ok = geo.Distance(nil, nil)
	require.False(t, ok)
}

func TestFareEstimate(t *testing.T) {
	fare := geo.Fare{BaseFare: 100, PerKmRate: 10}

	require.Equal(t, 145.9, fare.Estimate(4.59))
	require.Equal(t, 100.0, fare.Estimate(0))

	// Rounding applies after the multiply.
	require.Equal(t, 112.35, fare.Estimate(1.235))
}

func TestFareFromEnvDefaults(t *testing.T) {
	t.Setenv("BASE_FARE", "")
	t.Setenv("PER_KM_RATE", "")
	fare := geo.FareFromEnv()
	require.Equal(t, 100.0, fare.BaseFare)
	require.Equal(t, 10.0, fare.PerKmRate)
}

func TestFareFromEnvOverride(t *testing.T) {
	t.Setenv("BASE_FARE", "50")
	t.Setenv("PER_KM_RATE", "7.5")
	fare := geo.FareFromEnv()
	require.Equal(t, 50.0, fare.BaseFare)
	require.Equal(t, 7.5, fare.PerKmRate)
}
