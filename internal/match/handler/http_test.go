package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/mechassist/internal/auth"
	"github.com/example/mechassist/internal/match/domain"
	"github.com/example/mechassist/internal/match/geo"
	"github.com/example/mechassist/internal/match/handler"
	"github.com/example/mechassist/internal/match/lock"
	"github.com/example/mechassist/internal/match/repository"
	"github.com/example/mechassist/internal/match/service"
)

const testSecret = "handler-test-secret"

func signToken(t *testing.T, actor domain.Actor) string {
	t.Helper()
	claims := auth.Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type env struct {
	server   *httptest.Server
	store    *repository.MemoryStore
	customer domain.Actor
	mechanic domain.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := service.New(store, nil, domain.SystemClock{}, lock.NewMemoryLocker(), geo.Fare{BaseFare: 100, PerKmRate: 10}, service.Config{})
	server := httptest.NewServer(handler.NewHTTP(svc, testSecret).Router())
	t.Cleanup(server.Close)

	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	mechanic := domain.Actor{ID: uuid.New(), Role: domain.RoleMechanic}
	store.PutUser(domain.User{ID: customer.ID, Role: domain.RoleCustomer})
	store.PutUser(domain.User{ID: mechanic.ID, Role: domain.RoleMechanic})
	return &env{server: server, store: store, customer: customer, mechanic: mechanic}
}

func (e *env) do(t *testing.T, method, path string, actor *domain.Actor, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+signToken(t, *actor))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *env) seedProfile(t *testing.T) {
	t.Helper()
	lat, lng := 12.9716, 77.5946
	resp := e.do(t, http.MethodPut, "/v1/mechanics/me/profile", &e.mechanic, map[string]any{
		"skill_type":   "GENERAL_REPAIR",
		"availability": true,
		"latitude":     lat,
		"longitude":    lng,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnauthenticatedRejected(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/v1/requests/customer", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAcceptCompleteOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.seedProfile(t)

	resp := e.do(t, http.MethodPost, "/v1/requests", &e.customer, map[string]any{
		"mechanic_id":  e.mechanic.ID.String(),
		"issue_text":   "won't start",
		"customer_lat": 12.9352,
		"customer_lng": 77.6146,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created domain.ServiceRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, domain.StatusRequested, created.Status)
	require.NotNil(t, created.EstimatedCost)

	path := fmt.Sprintf("/v1/requests/%s/accept", created.ID)
	resp = e.do(t, http.MethodPost, path, &e.mechanic, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Accepting again maps InvalidState to 409.
	resp = e.do(t, http.MethodPost, path, &e.mechanic, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	path = fmt.Sprintf("/v1/requests/%s/complete", created.ID)
	resp = e.do(t, http.MethodPost, path, &e.mechanic, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorKindStatusMapping(t *testing.T) {
	e := newEnv(t)
	e.seedProfile(t)

	// Forbidden: mechanic creating a request.
	resp := e.do(t, http.MethodPost, "/v1/requests", &e.mechanic, map[string]any{
		"mechanic_id":  e.mechanic.ID.String(),
		"customer_lat": 12.9352,
		"customer_lng": 77.6146,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// NotFound: unknown mechanic id.
	resp = e.do(t, http.MethodPost, "/v1/requests", &e.customer, map[string]any{
		"mechanic_id":  uuid.NewString(),
		"customer_lat": 12.9352,
		"customer_lng": 77.6146,
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Validation: malformed coordinates on nearby search.
	resp = e.do(t, http.MethodGet, "/v1/mechanics/nearby?lat=abc&lng=77.6", &e.customer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMechanicRatingsIsPublic(t *testing.T) {
	e := newEnv(t)
	e.seedProfile(t)

	resp := e.do(t, http.MethodGet, "/v1/ratings/mechanic/"+e.mechanic.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/ratings/mechanic/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNearbyOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.seedProfile(t)

	resp := e.do(t, http.MethodGet, "/v1/mechanics/nearby?lat=12.9352&lng=77.6146", &e.customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ranked []struct {
		Mechanic   domain.MechanicProfile `json:"mechanic"`
		DistanceKM float64                `json:"distance_km"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ranked))
	require.Len(t, ranked, 1)
	require.Equal(t, 4.59, ranked[0].DistanceKM)
}
