// Package proximity ranks available mechanics by great-circle distance from
// a customer coordinate. The contract is a full scan over all available
// mechanics with an in-memory stable sort; no spatial index at this scale.
package proximity

import (
	"sort"
	"time"

	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/geo"
)

// Ranked pairs a profile with its distance from the search origin. The
// profile entity itself is never mutated to carry a distance.
type Ranked struct {
	Profile    domain.MechanicProfile `json:"mechanic"`
	DistanceKM float64                `json:"distance_km"`
}

// Nearby filters candidates to available mechanics with a known location,
// computes the distance to each, and returns them sorted ascending by
// distance. Ties keep the candidates' input order.
func Nearby(origin domain.Coordinate, candidates []domain.MechanicProfile) []Ranked {
	start := time.Now()

	ranked := make([]Ranked, 0, len(candidates))
	for _, profile := range candidates {
		if !profile.Availability || profile.Location == nil {
			continue
		}
		km, ok := geo.Distance(&origin, profile.Location)
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{Profile: profile, DistanceKM: km})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKM < ranked[j].DistanceKM
	})

	searchDuration.Observe(time.Since(start).Seconds())
	candidatesScanned.Add(float64(len(candidates)))
	return ranked
}
