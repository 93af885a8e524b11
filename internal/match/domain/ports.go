package domain

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence port. Implementations must provide at least
// read-committed isolation; CreateRating and UpdateRequest are the explicit
// serialization points (see method comments).
type Store interface {
	// GetUser resolves an id against the identity provider's replica.
	GetUser(ctx context.Context, id uuid.UUID) (User, error)

	// UpsertMechanicProfile creates or replaces the profile for the given
	// mechanic id. Idempotent on MechanicID; CreatedAt and the rating
	// aggregate survive the upsert.
	UpsertMechanicProfile(ctx context.Context, profile MechanicProfile) (MechanicProfile, error)
	GetMechanicProfile(ctx context.Context, mechanicID uuid.UUID) (MechanicProfile, error)
	// ListAvailableMechanics returns profiles with Availability=true in
	// stable insertion order. Profiles without a location are included; the
	// proximity index filters them.
	ListAvailableMechanics(ctx context.Context) ([]MechanicProfile, error)
	UpdateMechanicLocation(ctx context.Context, mechanicID uuid.UUID, loc Coordinate) error

	CreateRequest(ctx context.Context, req ServiceRequest) (ServiceRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (ServiceRequest, error)
	// UpdateRequest replaces the stored request if and only if the stored
	// version matches req.Version, then bumps the version. A mismatch
	// returns a Conflict error so no two concurrent transitions can both
	// succeed on the same request.
	UpdateRequest(ctx context.Context, req ServiceRequest) (ServiceRequest, error)
	ListRequestsByCustomer(ctx context.Context, customerID uuid.UUID) ([]ServiceRequest, error)
	ListRequestsByMechanic(ctx context.Context, mechanicID uuid.UUID) ([]ServiceRequest, error)
	ListAllRequests(ctx context.Context) ([]ServiceRequest, error)

	// CreateRating inserts the rating and recomputes the owning mechanic's
	// aggregate as one atomic unit: no reader observes the rating without
	// the updated aggregate. A second rating for the same
	// (customer, request) pair fails with a Validation error.
	CreateRating(ctx context.Context, rating Rating) (Rating, MechanicProfile, error)
	ListRatingsByMechanic(ctx context.Context, mechanicID uuid.UUID) ([]Rating, error)
}
