// Package geo computes great-circle distances and linear fare estimates.
// Everything here is pure; "unavailable" results are reported through the
// ok return, never as an error.
package geo

import (
	"math"
	"os"
	"strconv"

	"github.com/example/mechassist/internal/match/domain"
)

const earthRadiusKM = 6371.0

// Distance returns the great-circle distance in kilometers between two
// coordinates, rounded to two decimal places. ok is false when either
// coordinate is absent, meaning the caller cannot price, not that the call
// failed.
func Distance(a, b *domain.Coordinate) (km float64, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return round2(haversine(*a, *b)), true
}

func haversine(a, b domain.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlng := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlng := math.Sin(dlng / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlng*sinDlng
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

const (
	DefaultBaseFare  = 100.0
	DefaultPerKmRate = 10.0
)

// Fare holds deployment-level pricing configuration.
type Fare struct {
	BaseFare  float64
	PerKmRate float64
}

// FareFromEnv reads BASE_FARE and PER_KM_RATE, falling back to the defaults.
func FareFromEnv() Fare {
	return Fare{
		BaseFare:  parseFloatEnv("BASE_FARE", DefaultBaseFare),
		PerKmRate: parseFloatEnv("PER_KM_RATE", DefaultPerKmRate),
	}
}

// Estimate prices a request: base fare plus distance times the per-km rate,
// rounded to two decimal places.
func (f Fare) Estimate(distanceKM float64) float64 {
	return round2(f.BaseFare + distanceKM*f.PerKmRate)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
