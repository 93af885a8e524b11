package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Role is the identity provider's role claim. It is immutable for the
// duration of any single operation.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleMechanic Role = "MECHANIC"
	RoleAdmin    Role = "ADMIN"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }
func (a Actor) IsMechanic() bool { return a.Role == RoleMechanic }
func (a Actor) IsAdmin() bool    { return a.Role == RoleAdmin }

// User mirrors the identity provider's view of an account. The core never
// writes users; it only resolves ids to roles.
type User struct {
	ID   uuid.UUID
	Name string
	Role Role
}

// Coordinate is a (latitude, longitude) pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type SkillType string

const (
	SkillGeneralRepair SkillType = "GENERAL_REPAIR"
	SkillTyres         SkillType = "TYRES"
	SkillElectrical    SkillType = "ELECTRICAL"
	SkillEngine        SkillType = "ENGINE"
	SkillBattery       SkillType = "BATTERY"
)

// MechanicProfile is the source of truth for a mechanic's availability,
// location and rating aggregate. A profile without a location is invisible
// to proximity search regardless of availability.
type MechanicProfile struct {
	MechanicID   uuid.UUID   `json:"mechanic_id"`
	SkillType    SkillType   `json:"skill_type"`
	Availability bool        `json:"availability"`
	Location     *Coordinate `json:"location,omitempty"`
	RatingAvg    float64     `json:"rating_avg"`
	RatingCount  int         `json:"rating_count"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type RequestStatus string

const (
	StatusRequested RequestStatus = "REQUESTED"
	StatusAccepted  RequestStatus = "ACCEPTED"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// CANCELLED is reachable in the table but no operation drives it yet; the
// state is kept for forward compatibility with broadcast cancellation.
var allowedTransitions = map[RequestStatus][]RequestStatus{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether next is a legal successor state. There are
// no self-transitions and no skips.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// ServiceRequest tracks one repair request from creation through completion.
// DistanceKM and EstimatedCost are priced exactly once, at creation, from the
// mechanic's profile location at that instant; they never recompute.
type ServiceRequest struct {
	ID               uuid.UUID     `json:"id"`
	CustomerID       uuid.UUID     `json:"customer_id"`
	MechanicID       uuid.UUID     `json:"mechanic_id"`
	IssueText        string        `json:"issue_text"`
	CustomerLocation Coordinate    `json:"customer_location"`
	DistanceKM       *float64      `json:"distance_km,omitempty"`
	EstimatedCost    *float64      `json:"estimated_cost,omitempty"`
	Status           RequestStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	Version          int64         `json:"-"`
}

// Accept transitions REQUESTED -> ACCEPTED. Only the assigned mechanic may
// drive the transition.
func (r *ServiceRequest) Accept(actor Actor, now time.Time) error {
	if !actor.IsMechanic() || actor.ID != r.MechanicID {
		return Forbiddenf("only the assigned mechanic can accept this request")
	}
	if r.Status != StatusRequested {
		return InvalidStatef("request is already %s", r.Status)
	}
	r.Status = StatusAccepted
	r.UpdatedAt = now
	return nil
}

// Complete transitions ACCEPTED -> COMPLETED and stamps CompletedAt.
func (r *ServiceRequest) Complete(actor Actor, now time.Time) error {
	if !actor.IsMechanic() || actor.ID != r.MechanicID {
		return Forbiddenf("only the assigned mechanic can complete this request")
	}
	if r.Status != StatusAccepted {
		return InvalidStatef("request must be accepted before completion, current status is %s", r.Status)
	}
	r.Status = StatusCompleted
	r.UpdatedAt = now
	r.CompletedAt = &now
	return nil
}

// Rating is immutable once recorded. Exactly one rating may exist per
// (customer, service request) pair.
type Rating struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	MechanicID uuid.UUID `json:"mechanic_id"`
	RequestID  uuid.UUID `json:"service_request_id"`
	Stars      int       `json:"stars"`
	ReviewText string    `json:"review_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Aggregate is the derived (rating_avg, rating_count) pair stored on a
// mechanic profile.
type Aggregate struct {
	Avg   float64
	Count int
}

// RecomputeAggregate derives the aggregate by full re-scan of stars, mean
// rounded to two decimal places. An empty input yields a zero aggregate.
func RecomputeAggregate(stars []int) Aggregate {
	if len(stars) == 0 {
		return Aggregate{}
	}
	total := 0
	for _, s := range stars {
		total += s
	}
	avg := float64(total) / float64(len(stars))
	return Aggregate{Avg: round2(avg), Count: len(stars)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventRequestAccepted  EventType = "request.accepted"
	EventRequestCompleted EventType = "request.completed"
	EventRatingSubmitted  EventType = "rating.submitted"
)

// Event records a lifecycle or rating change for downstream consumers.
type Event struct {
	RequestID uuid.UUID      `json:"request_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventPublisher delivers events best-effort; implementations must be safe
// to call with a nil receiver so wiring without a broker stays trivial.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Type, e.RequestID)
}
