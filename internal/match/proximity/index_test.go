package proximity_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/proximity"
)

func profileAt(lat, lng float64) domain.MechanicProfile {
	return domain.MechanicProfile{
		MechanicID:   uuid.New(),
		SkillType:    domain.SkillGeneralRepair,
		Availability: true,
		Location:     &domain.Coordinate{Lat: lat, Lng: lng},
	}
}

func TestNearbySortsAscendingByDistance(t *testing.T) {
	origin := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}
	far := profileAt(13.1986, 77.7066)
	near := profileAt(12.9716, 77.5946)
	mid := profileAt(12.9982, 77.5530)

	ranked := proximity.Nearby(origin, []domain.MechanicProfile{far, near, mid})
	require.Len(t, ranked, 3)
	require.Equal(t, near.MechanicID, ranked[0].Profile.MechanicID)
	require.Equal(t, mid.MechanicID, ranked[1].Profile.MechanicID)
	require.Equal(t, far.MechanicID, ranked[2].Profile.MechanicID)
	require.True(t, ranked[0].DistanceKM <= ranked[1].DistanceKM)
	require.True(t, ranked[1].DistanceKM <= ranked[2].DistanceKM)
}

func TestNearbyExcludesUnavailableAndUnlocated(t *testing.T) {
	origin := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}

	unavailable := profileAt(12.9716, 77.5946)
	unavailable.Availability = false

	unlocated := domain.MechanicProfile{MechanicID: uuid.New(), Availability: true}

	visible := profileAt(12.9716, 77.5946)

	ranked := proximity.Nearby(origin, []domain.MechanicProfile{unavailable, unlocated, visible})
	require.Len(t, ranked, 1)
	require.Equal(t, visible.MechanicID, ranked[0].Profile.MechanicID)
}

func TestNearbyTiesKeepInputOrder(t *testing.T) {
	origin := domain.Coordinate{Lat: 12.9352, Lng: 77.6146}
	first := profileAt(12.9716, 77.5946)
	second := profileAt(12.9716, 77.5946)

	ranked := proximity.Nearby(origin, []domain.MechanicProfile{first, second})
	require.Len(t, ranked, 2)
	require.Equal(t, first.MechanicID, ranked[0].Profile.MechanicID)
	require.Equal(t, second.MechanicID, ranked[1].Profile.MechanicID)
}

func TestNearbyEmptyInput(t *testing.T) {
	ranked := proximity.Nearby(domain.Coordinate{}, nil)
	require.Empty(t, ranked)
}
