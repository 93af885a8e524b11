// Package repository provides the in-memory Store implementation used by
// tests and single-instance deployments. The mutex is the transaction
// boundary: every method runs as one atomic unit against current state.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/mechassist/internal/match/domain"
)

type ratingKey struct {
	customerID uuid.UUID
	requestID  uuid.UUID
}

// MemoryStore implements domain.Store guarded by a single RWMutex.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]domain.User
	profiles     map[uuid.UUID]domain.MechanicProfile
	profileOrder []uuid.UUID
	requests     map[uuid.UUID]domain.ServiceRequest
	requestSeq   map[uuid.UUID]int64
	nextSeq      int64
	ratings      []domain.Rating
	ratingSeen   map[ratingKey]struct{}
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[uuid.UUID]domain.User),
		profiles:   make(map[uuid.UUID]domain.MechanicProfile),
		requests:   make(map[uuid.UUID]domain.ServiceRequest),
		requestSeq: make(map[uuid.UUID]int64),
		ratingSeen: make(map[ratingKey]struct{}),
	}
}

// PutUser seeds an identity provider record. Not part of the Store port;
// used by wiring and tests.
func (m *MemoryStore) PutUser(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// GetUser resolves a user id.
func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.NotFoundf("user %s not found", id)
	}
	return user, nil
}

// UpsertMechanicProfile creates or replaces the profile, idempotent on the
// mechanic id. CreatedAt and the rating aggregate are preserved across
// replacements.
func (m *MemoryStore) UpsertMechanicProfile(_ context.Context, profile domain.MechanicProfile) (domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[profile.MechanicID]
	if ok {
		profile.CreatedAt = existing.CreatedAt
		profile.RatingAvg = existing.RatingAvg
		profile.RatingCount = existing.RatingCount
	} else {
		m.profileOrder = append(m.profileOrder, profile.MechanicID)
	}
	m.profiles[profile.MechanicID] = profile
	return profile, nil
}

// GetMechanicProfile retrieves a profile.
func (m *MemoryStore) GetMechanicProfile(_ context.Context, mechanicID uuid.UUID) (domain.MechanicProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[mechanicID]
	if !ok {
		return domain.MechanicProfile{}, domain.NotFoundf("mechanic profile %s not found", mechanicID)
	}
	return profile, nil
}

// ListAvailableMechanics returns available profiles in insertion order.
func (m *MemoryStore) ListAvailableMechanics(_ context.Context) ([]domain.MechanicProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.MechanicProfile, 0, len(m.profileOrder))
	for _, id := range m.profileOrder {
		profile := m.profiles[id]
		if profile.Availability {
			result = append(result, profile)
		}
	}
	return result, nil
}

// UpdateMechanicLocation stores the latest reported location.
func (m *MemoryStore) UpdateMechanicLocation(_ context.Context, mechanicID uuid.UUID, loc domain.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[mechanicID]
	if !ok {
		return domain.NotFoundf("mechanic profile %s not found", mechanicID)
	}
	profile.Location = &domain.Coordinate{Lat: loc.Lat, Lng: loc.Lng}
	profile.UpdatedAt = time.Now().UTC()
	m.profiles[mechanicID] = profile
	return nil
}

// CreateRequest stores the request at version 1.
func (m *MemoryStore) CreateRequest(_ context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Version = 1
	m.requests[req.ID] = req
	m.nextSeq++
	m.requestSeq[req.ID] = m.nextSeq
	return req, nil
}

// GetRequest retrieves a request.
func (m *MemoryStore) GetRequest(_ context.Context, id uuid.UUID) (domain.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ServiceRequest{}, domain.NotFoundf("service request %s not found", id)
	}
	return req, nil
}

// UpdateRequest replaces the stored request iff the version still matches,
// then bumps the version. A mismatch means a concurrent transition won.
func (m *MemoryStore) UpdateRequest(_ context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.requests[req.ID]
	if !ok {
		return domain.ServiceRequest{}, domain.NotFoundf("service request %s not found", req.ID)
	}
	if existing.Version != req.Version {
		return domain.ServiceRequest{}, domain.Conflictf("service request %s was modified concurrently", req.ID)
	}
	req.Version = existing.Version + 1
	m.requests[req.ID] = req
	return req, nil
}

// ListRequestsByCustomer returns the customer's requests newest first.
func (m *MemoryStore) ListRequestsByCustomer(_ context.Context, customerID uuid.UUID) ([]domain.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequests(func(r domain.ServiceRequest) bool {
		return r.CustomerID == customerID
	}), nil
}

// ListRequestsByMechanic returns requests assigned to the mechanic, any
// status, newest first.
func (m *MemoryStore) ListRequestsByMechanic(_ context.Context, mechanicID uuid.UUID) ([]domain.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequests(func(r domain.ServiceRequest) bool {
		return r.MechanicID == mechanicID
	}), nil
}

// ListAllRequests returns every request newest first.
func (m *MemoryStore) ListAllRequests(_ context.Context) ([]domain.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequests(func(domain.ServiceRequest) bool { return true }), nil
}

// listRequests must be called with at least the read lock held.
func (m *MemoryStore) listRequests(match func(domain.ServiceRequest) bool) []domain.ServiceRequest {
	var result []domain.ServiceRequest
	for _, req := range m.requests {
		if match(req) {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.requestSeq[result[i].ID] > m.requestSeq[result[j].ID]
	})
	return result
}

// CreateRating inserts the rating and recomputes the mechanic's aggregate
// under the same lock acquisition, so no reader can observe one without the
// other.
func (m *MemoryStore) CreateRating(_ context.Context, rating domain.Rating) (domain.Rating, domain.MechanicProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ratingKey{customerID: rating.CustomerID, requestID: rating.RequestID}
	if _, dup := m.ratingSeen[key]; dup {
		return domain.Rating{}, domain.MechanicProfile{}, domain.Validationf("you have already rated this service")
	}
	profile, ok := m.profiles[rating.MechanicID]
	if !ok {
		return domain.Rating{}, domain.MechanicProfile{}, domain.NotFoundf("mechanic profile %s not found", rating.MechanicID)
	}

	m.ratings = append(m.ratings, rating)
	m.ratingSeen[key] = struct{}{}

	var stars []int
	for _, r := range m.ratings {
		if r.MechanicID == rating.MechanicID {
			stars = append(stars, r.Stars)
		}
	}
	agg := domain.RecomputeAggregate(stars)
	profile.RatingAvg = agg.Avg
	profile.RatingCount = agg.Count
	profile.UpdatedAt = rating.CreatedAt
	m.profiles[rating.MechanicID] = profile

	return rating, profile, nil
}

// ListRatingsByMechanic returns a mechanic's ratings newest first.
func (m *MemoryStore) ListRatingsByMechanic(_ context.Context, mechanicID uuid.UUID) ([]domain.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Rating
	for i := len(m.ratings) - 1; i >= 0; i-- {
		if m.ratings[i].MechanicID == mechanicID {
			result = append(result, m.ratings[i])
		}
	}
	return result, nil
}
