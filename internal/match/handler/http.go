// Package handler wires the matching service onto chi. It owns nothing but
// decoding, actor extraction and the error-kind to status-code mapping.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/mechassist/internal/auth"
	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/service"
)

// HTTP exposes the matching endpoints.
type HTTP struct {
	svc       *service.Service
	jwtSecret string
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, jwtSecret: jwtSecret}
}

// Router builds the chi router with all endpoints and middlewares. Mechanic
// ratings are public; everything else requires a valid token.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/v1/ratings/mechanic/{id}", h.mechanicRatings)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret))
		r.Get("/v1/mechanics/nearby", h.nearbyMechanics)
		r.Get("/v1/mechanics/me/profile", h.getProfile)
		r.Put("/v1/mechanics/me/profile", h.upsertProfile)
		r.Post("/v1/requests", h.createRequest)
		r.Get("/v1/requests/customer", h.listForCustomer)
		r.Get("/v1/requests/mechanic", h.listForMechanic)
		r.Post("/v1/requests/{id}/accept", h.acceptRequest)
		r.Post("/v1/requests/{id}/complete", h.completeRequest)
		r.Post("/v1/ratings", h.submitRating)
		r.Get("/v1/admin/requests", h.listAllRequests)
	})
	return r
}

type createRequestPayload struct {
	MechanicID  string  `json:"mechanic_id"`
	IssueText   string  `json:"issue_text"`
	CustomerLat float64 `json:"customer_lat"`
	CustomerLng float64 `json:"customer_lng"`
}

func (h *HTTP) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mechanicID, err := uuid.Parse(payload.MechanicID)
	if err != nil {
		http.Error(w, "invalid mechanic_id", http.StatusBadRequest)
		return
	}
	req, err := h.svc.CreateRequest(r.Context(), actor, service.CreateRequestInput{
		MechanicID:       mechanicID,
		IssueText:        payload.IssueText,
		CustomerLocation: domain.Coordinate{Lat: payload.CustomerLat, Lng: payload.CustomerLng},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *HTTP) listForCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	requests, err := h.svc.ListForCustomer(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *HTTP) listForMechanic(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	requests, err := h.svc.ListForMechanic(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *HTTP) listAllRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	requests, err := h.svc.ListAllRequests(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *HTTP) acceptRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Accept)
}

func (h *HTTP) completeRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *HTTP) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Actor, uuid.UUID) (domain.ServiceRequest, error)) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	req, err := op(r.Context(), actor, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTP) nearbyMechanics(w http.ResponseWriter, r *http.Request) {
	lat, latErr := parseQueryFloat(r, "lat")
	lng, lngErr := parseQueryFloat(r, "lng")
	if latErr != nil || lngErr != nil {
		writeError(w, domain.Validationf("latitude and longitude are required"))
		return
	}
	ranked, err := h.svc.NearbyMechanics(r.Context(), domain.Coordinate{Lat: lat, Lng: lng})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

type submitRatingPayload struct {
	MechanicID       string `json:"mechanic_id"`
	ServiceRequestID string `json:"service_request_id"`
	Stars            int    `json:"stars"`
	ReviewText       string `json:"review_text"`
}

func (h *HTTP) submitRating(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var payload submitRatingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mechanicID, err := uuid.Parse(payload.MechanicID)
	if err != nil {
		http.Error(w, "invalid mechanic_id", http.StatusBadRequest)
		return
	}
	requestID, err := uuid.Parse(payload.ServiceRequestID)
	if err != nil {
		http.Error(w, "invalid service_request_id", http.StatusBadRequest)
		return
	}
	rating, err := h.svc.SubmitRating(r.Context(), actor, service.SubmitRatingInput{
		MechanicID: mechanicID,
		RequestID:  requestID,
		Stars:      payload.Stars,
		ReviewText: payload.ReviewText,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

func (h *HTTP) mechanicRatings(w http.ResponseWriter, r *http.Request) {
	mechanicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	ratings, err := h.svc.MechanicRatings(r.Context(), mechanicID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

type upsertProfilePayload struct {
	SkillType    string   `json:"skill_type"`
	Availability bool     `json:"availability"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

func (h *HTTP) upsertProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var payload upsertProfilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var loc *domain.Coordinate
	if payload.Latitude != nil && payload.Longitude != nil {
		loc = &domain.Coordinate{Lat: *payload.Latitude, Lng: *payload.Longitude}
	}
	profile, err := h.svc.UpsertMechanicProfile(r.Context(), actor, service.UpsertProfileInput{
		SkillType:    domain.SkillType(payload.SkillType),
		Availability: payload.Availability,
		Location:     loc,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *HTTP) getProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	profile, err := h.svc.GetMechanicProfile(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// statusFor maps guard-failure kinds to HTTP statuses; anything unclassified
// is an internal fault.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseQueryFloat(r *http.Request, key string) (float64, error) {
	return strconv.ParseFloat(r.URL.Query().Get(key), 64)
}
