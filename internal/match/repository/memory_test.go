package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/repository"
)

func TestUpsertMechanicProfileIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	mechanicID := uuid.New()
	created := time.Unix(100, 0).UTC()

	first, err := store.UpsertMechanicProfile(ctx, domain.MechanicProfile{
		MechanicID:   mechanicID,
		SkillType:    domain.SkillEngine,
		Availability: true,
		CreatedAt:    created,
		UpdatedAt:    created,
	})
	require.NoError(t, err)
	require.Equal(t, created, first.CreatedAt)

	// A later upsert replaces the mutable fields but keeps CreatedAt and
	// the rating aggregate.
	_, _, err = store.CreateRating(ctx, domain.Rating{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		MechanicID: mechanicID,
		RequestID:  uuid.New(),
		Stars:      5,
	})
	require.NoError(t, err)

	second, err := store.UpsertMechanicProfile(ctx, domain.MechanicProfile{
		MechanicID:   mechanicID,
		SkillType:    domain.SkillTyres,
		Availability: false,
		CreatedAt:    time.Unix(200, 0).UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, created, second.CreatedAt)
	require.Equal(t, domain.SkillTyres, second.SkillType)
	require.Equal(t, 5.0, second.RatingAvg)
	require.Equal(t, 1, second.RatingCount)
}

func TestUpdateRequestVersionConflict(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	req, err := store.CreateRequest(ctx, domain.ServiceRequest{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		MechanicID: uuid.New(),
		Status:     domain.StatusRequested,
	})
	require.NoError(t, err)

	winner := req
	winner.Status = domain.StatusAccepted
	_, err = store.UpdateRequest(ctx, winner)
	require.NoError(t, err)

	// Second writer still holds the stale version.
	loser := req
	loser.Status = domain.StatusAccepted
	_, err = store.UpdateRequest(ctx, loser)
	require.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestListRequestsNewestFirst(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	customerID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		req, err := store.CreateRequest(ctx, domain.ServiceRequest{
			ID:         uuid.New(),
			CustomerID: customerID,
			MechanicID: uuid.New(),
			Status:     domain.StatusRequested,
		})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	list, err := store.ListRequestsByCustomer(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ids[2], list[0].ID)
	require.Equal(t, ids[1], list[1].ID)
	require.Equal(t, ids[0], list[2].ID)
}

func TestCreateRatingDuplicateRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	mechanicID := uuid.New()
	customerID := uuid.New()
	requestID := uuid.New()

	_, err := store.UpsertMechanicProfile(ctx, domain.MechanicProfile{MechanicID: mechanicID, Availability: true})
	require.NoError(t, err)

	_, _, err = store.CreateRating(ctx, domain.Rating{
		ID: uuid.New(), CustomerID: customerID, MechanicID: mechanicID, RequestID: requestID, Stars: 4,
	})
	require.NoError(t, err)

	_, _, err = store.CreateRating(ctx, domain.Rating{
		ID: uuid.New(), CustomerID: customerID, MechanicID: mechanicID, RequestID: requestID, Stars: 5,
	})
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestCreateRatingRecomputesAggregateAtomically(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	mechanicID := uuid.New()

	_, err := store.UpsertMechanicProfile(ctx, domain.MechanicProfile{MechanicID: mechanicID, Availability: true})
	require.NoError(t, err)

	_, profile, err := store.CreateRating(ctx, domain.Rating{
		ID: uuid.New(), CustomerID: uuid.New(), MechanicID: mechanicID, RequestID: uuid.New(), Stars: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 4.0, profile.RatingAvg)
	require.Equal(t, 1, profile.RatingCount)

	_, profile, err = store.CreateRating(ctx, domain.Rating{
		ID: uuid.New(), CustomerID: uuid.New(), MechanicID: mechanicID, RequestID: uuid.New(), Stars: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 4.5, profile.RatingAvg)
	require.Equal(t, 2, profile.RatingCount)
}

func TestCreateRatingConcurrentNoLostUpdates(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	mechanicID := uuid.New()

	_, err := store.UpsertMechanicProfile(ctx, domain.MechanicProfile{MechanicID: mechanicID, Availability: true})
	require.NoError(t, err)

	const n = 50
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.CreateRating(ctx, domain.Rating{
				ID:         uuid.New(),
				CustomerID: uuid.New(),
				MechanicID: mechanicID,
				RequestID:  uuid.New(),
				Stars:      3,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	profile, err := store.GetMechanicProfile(ctx, mechanicID)
	require.NoError(t, err)
	require.Equal(t, n, profile.RatingCount)
	require.Equal(t, 3.0, profile.RatingAvg)
}
