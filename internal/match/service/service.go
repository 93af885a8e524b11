// Package service orchestrates matching, lifecycle and rating operations.
// It is the sole entry point the transport layer calls into.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/geo"
	"github.com/example/mechassist/internal/match/lock"
	"github.com/example/mechassist/internal/match/proximity"
)

// Config holds tunables for rating serialization.
type Config struct {
	RatingLockTTL      time.Duration
	RatingLockAttempts int
	RatingLockBackoff  time.Duration
}

// Service coordinates the store, pricing, proximity search and eventing.
type Service struct {
	store  domain.Store
	events domain.EventPublisher
	clock  domain.Clock
	locks  lock.Locker
	fare   geo.Fare
	cfg    Config
}

// New constructs a Service with the required collaborators. events may be
// nil when no broker is wired.
func New(store domain.Store, events domain.EventPublisher, clock domain.Clock, locks lock.Locker, fare geo.Fare, cfg Config) *Service {
	if cfg.RatingLockTTL <= 0 {
		cfg.RatingLockTTL = 5 * time.Second
	}
	if cfg.RatingLockAttempts <= 0 {
		cfg.RatingLockAttempts = 5
	}
	if cfg.RatingLockBackoff <= 0 {
		cfg.RatingLockBackoff = 20 * time.Millisecond
	}
	return &Service{store: store, events: events, clock: clock, locks: locks, fare: fare, cfg: cfg}
}

// CreateRequestInput is the payload for creating a service request.
type CreateRequestInput struct {
	MechanicID       uuid.UUID
	IssueText        string
	CustomerLocation domain.Coordinate
}

// CreateRequest prices and persists a new request in REQUESTED status.
// Distance and cost are computed here, once, from the mechanic's current
// profile location; they never recompute afterwards.
func (s *Service) CreateRequest(ctx context.Context, actor domain.Actor, input CreateRequestInput) (domain.ServiceRequest, error) {
	if !actor.IsCustomer() {
		return domain.ServiceRequest{}, domain.Forbiddenf("only customers can create service requests")
	}
	if !validCoordinate(input.CustomerLocation) {
		return domain.ServiceRequest{}, domain.Validationf("invalid latitude or longitude")
	}
	if err := s.requireMechanic(ctx, input.MechanicID); err != nil {
		return domain.ServiceRequest{}, err
	}

	profile, err := s.store.GetMechanicProfile(ctx, input.MechanicID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.ServiceRequest{}, domain.Validationf("mechanic profile not found")
		}
		return domain.ServiceRequest{}, err
	}

	km, ok := geo.Distance(&input.CustomerLocation, profile.Location)
	if !ok {
		return domain.ServiceRequest{}, domain.Validationf("mechanic has no location set")
	}
	cost := s.fare.Estimate(km)

	now := s.clock.Now()
	req := domain.ServiceRequest{
		ID:               uuid.New(),
		CustomerID:       actor.ID,
		MechanicID:       input.MechanicID,
		IssueText:        input.IssueText,
		CustomerLocation: input.CustomerLocation,
		DistanceKM:       &km,
		EstimatedCost:    &cost,
		Status:           domain.StatusRequested,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return domain.ServiceRequest{}, err
	}

	s.publish(ctx, domain.Event{
		RequestID: created.ID,
		Type:      domain.EventRequestCreated,
		Payload:   map[string]any{"customer_id": created.CustomerID.String(), "mechanic_id": created.MechanicID.String()},
		CreatedAt: now,
	})
	return created, nil
}

// ListForCustomer returns the customer's own requests, newest first.
func (s *Service) ListForCustomer(ctx context.Context, actor domain.Actor) ([]domain.ServiceRequest, error) {
	if !actor.IsCustomer() {
		return nil, domain.Forbiddenf("only customers can view their requests")
	}
	return s.store.ListRequestsByCustomer(ctx, actor.ID)
}

// ListForMechanic returns requests assigned to the mechanic, newest first.
// Every request carries an assigned mechanic from creation, so there is no
// unassigned branch to merge.
func (s *Service) ListForMechanic(ctx context.Context, actor domain.Actor) ([]domain.ServiceRequest, error) {
	if !actor.IsMechanic() {
		return nil, domain.Forbiddenf("only mechanics can view their requests")
	}
	return s.store.ListRequestsByMechanic(ctx, actor.ID)
}

// ListAllRequests is the admin overview across all customers and mechanics.
func (s *Service) ListAllRequests(ctx context.Context, actor domain.Actor) ([]domain.ServiceRequest, error) {
	if !actor.IsAdmin() {
		return nil, domain.Forbiddenf("only admins can access this endpoint")
	}
	return s.store.ListAllRequests(ctx)
}

// Accept transitions a request to ACCEPTED on behalf of its assigned
// mechanic.
func (s *Service) Accept(ctx context.Context, actor domain.Actor, requestID uuid.UUID) (domain.ServiceRequest, error) {
	return s.transition(ctx, actor, requestID, func(req *domain.ServiceRequest, now time.Time) error {
		return req.Accept(actor, now)
	}, domain.EventRequestAccepted)
}

// Complete transitions a request to COMPLETED and stamps completed_at.
func (s *Service) Complete(ctx context.Context, actor domain.Actor, requestID uuid.UUID) (domain.ServiceRequest, error) {
	return s.transition(ctx, actor, requestID, func(req *domain.ServiceRequest, now time.Time) error {
		return req.Complete(actor, now)
	}, domain.EventRequestCompleted)
}

// transition applies a guard to a freshly read request and writes it back
// with an optimistic version check. When a concurrent transition wins the
// race the guard is re-evaluated against fresh state so the caller sees an
// InvalidState failure echoing the current status rather than a bare
// conflict.
func (s *Service) transition(ctx context.Context, actor domain.Actor, requestID uuid.UUID, guard func(*domain.ServiceRequest, time.Time) error, event domain.EventType) (domain.ServiceRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}

	now := s.clock.Now()
	if err := guard(&req, now); err != nil {
		return domain.ServiceRequest{}, err
	}

	updated, err := s.store.UpdateRequest(ctx, req)
	if domain.IsKind(err, domain.KindConflict) {
		fresh, gerr := s.store.GetRequest(ctx, requestID)
		if gerr != nil {
			return domain.ServiceRequest{}, gerr
		}
		if gerr := guard(&fresh, now); gerr != nil {
			return domain.ServiceRequest{}, gerr
		}
		// Guard passed against fresh state; surface the conflict as-is.
		return domain.ServiceRequest{}, err
	}
	if err != nil {
		return domain.ServiceRequest{}, err
	}

	s.publish(ctx, domain.Event{
		RequestID: updated.ID,
		Type:      event,
		Payload:   map[string]any{"mechanic_id": actor.ID.String(), "status": string(updated.Status)},
		CreatedAt: now,
	})
	return updated, nil
}

// NearbyMechanics ranks all available, located mechanics by distance from
// the origin. Any authenticated caller may search.
func (s *Service) NearbyMechanics(ctx context.Context, origin domain.Coordinate) ([]proximity.Ranked, error) {
	if !validCoordinate(origin) {
		return nil, domain.Validationf("invalid latitude or longitude")
	}
	mechanics, err := s.store.ListAvailableMechanics(ctx)
	if err != nil {
		return nil, err
	}
	return proximity.Nearby(origin, mechanics), nil
}

// SubmitRatingInput is the payload for rating a completed request.
type SubmitRatingInput struct {
	MechanicID uuid.UUID
	RequestID  uuid.UUID
	Stars      int
	ReviewText string
}

// SubmitRating records the rating and updates the mechanic's aggregate.
// Submissions for the same mechanic are serialized through the locker so a
// fleet of instances cannot interleave the recomputation.
func (s *Service) SubmitRating(ctx context.Context, actor domain.Actor, input SubmitRatingInput) (domain.Rating, error) {
	if !actor.IsCustomer() {
		return domain.Rating{}, domain.Forbiddenf("only customers can create ratings")
	}
	if input.Stars < 1 || input.Stars > 5 {
		return domain.Rating{}, domain.Validationf("stars must be between 1 and 5")
	}
	if err := s.requireMechanic(ctx, input.MechanicID); err != nil {
		return domain.Rating{}, err
	}

	req, err := s.store.GetRequest(ctx, input.RequestID)
	if err != nil && !domain.IsKind(err, domain.KindNotFound) {
		return domain.Rating{}, err
	}
	// The triple match is mandatory: a completed request for a different
	// mechanic or by a different customer must not satisfy it.
	if err != nil || req.CustomerID != actor.ID || req.MechanicID != input.MechanicID || req.Status != domain.StatusCompleted {
		return domain.Rating{}, domain.Validationf("service request not found or not completed")
	}

	key := input.MechanicID.String()
	if err := s.acquireRatingLock(ctx, key); err != nil {
		return domain.Rating{}, err
	}
	defer func() { _ = s.locks.Release(ctx, key) }()

	rating := domain.Rating{
		ID:         uuid.New(),
		CustomerID: actor.ID,
		MechanicID: input.MechanicID,
		RequestID:  input.RequestID,
		Stars:      input.Stars,
		ReviewText: input.ReviewText,
		CreatedAt:  s.clock.Now(),
	}
	created, profile, err := s.store.CreateRating(ctx, rating)
	if err != nil {
		return domain.Rating{}, err
	}

	s.publish(ctx, domain.Event{
		RequestID: input.RequestID,
		Type:      domain.EventRatingSubmitted,
		Payload: map[string]any{
			"mechanic_id":  input.MechanicID.String(),
			"stars":        input.Stars,
			"rating_avg":   profile.RatingAvg,
			"rating_count": profile.RatingCount,
		},
		CreatedAt: created.CreatedAt,
	})
	return created, nil
}

// MechanicRatings lists a mechanic's ratings, newest first. Open to any
// caller.
func (s *Service) MechanicRatings(ctx context.Context, mechanicID uuid.UUID) ([]domain.Rating, error) {
	if err := s.requireMechanic(ctx, mechanicID); err != nil {
		return nil, err
	}
	return s.store.ListRatingsByMechanic(ctx, mechanicID)
}

// UpsertProfileInput is the payload for a mechanic maintaining their profile.
type UpsertProfileInput struct {
	SkillType    domain.SkillType
	Availability bool
	Location     *domain.Coordinate
}

// UpsertMechanicProfile creates or replaces the calling mechanic's profile,
// idempotent on the mechanic's identity.
func (s *Service) UpsertMechanicProfile(ctx context.Context, actor domain.Actor, input UpsertProfileInput) (domain.MechanicProfile, error) {
	if !actor.IsMechanic() {
		return domain.MechanicProfile{}, domain.Forbiddenf("only mechanics can update a mechanic profile")
	}
	if input.Location != nil && !validCoordinate(*input.Location) {
		return domain.MechanicProfile{}, domain.Validationf("invalid latitude or longitude")
	}
	if input.SkillType == "" {
		input.SkillType = domain.SkillGeneralRepair
	}

	now := s.clock.Now()
	return s.store.UpsertMechanicProfile(ctx, domain.MechanicProfile{
		MechanicID:   actor.ID,
		SkillType:    input.SkillType,
		Availability: input.Availability,
		Location:     input.Location,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// GetMechanicProfile returns the calling mechanic's own profile.
func (s *Service) GetMechanicProfile(ctx context.Context, actor domain.Actor) (domain.MechanicProfile, error) {
	if !actor.IsMechanic() {
		return domain.MechanicProfile{}, domain.Forbiddenf("only mechanics have a mechanic profile")
	}
	return s.store.GetMechanicProfile(ctx, actor.ID)
}

// requireMechanic resolves the id and verifies the MECHANIC role.
func (s *Service) requireMechanic(ctx context.Context, mechanicID uuid.UUID) error {
	user, err := s.store.GetUser(ctx, mechanicID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.NotFoundf("mechanic not found")
		}
		return err
	}
	if user.Role != domain.RoleMechanic {
		return domain.NotFoundf("mechanic not found")
	}
	return nil
}

func (s *Service) acquireRatingLock(ctx context.Context, key string) error {
	for attempt := 0; ; attempt++ {
		ok, err := s.locks.Acquire(ctx, key, s.cfg.RatingLockTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= s.cfg.RatingLockAttempts-1 {
			return domain.Conflictf("another rating for this mechanic is being recorded, try again")
		}
		backoff := s.cfg.RatingLockBackoff << attempt
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event)
}

func validCoordinate(c domain.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
