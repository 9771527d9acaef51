package store

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrRequestNotFound   = errors.New("ride request not found")
	ErrInvalidTransition = errors.New("invalid request state transition")
	ErrRequestNotPending = errors.New("ride request is not pending")
)

// RequestStore holds ride requests and guards every status change with a
// compare-and-set against the expected prior state plus the allowed
// transition table.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RideRequest
}

func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]*models.RideRequest)}
}

func (s *RequestStore) Create(r models.RideRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.requests[r.ID] = &r
}

func (s *RequestStore) Get(id string) (models.RideRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return models.RideRequest{}, ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

// Transition applies from→to if and only if the request currently has status
// `from` and the transition is legal. mutate, when non-nil, runs on the
// request inside the same critical section. The bool result is the CAS
// outcome: false means the request moved on concurrently.
func (s *RequestStore) Transition(id string, from, to models.RequestStatus, mutate func(*models.RideRequest)) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if mutate != nil {
		mutate(r)
	}
	return true, nil
}

// Suggest replaces the current offer target. Only valid while pending.
func (s *RequestStore) Suggest(id, vehicleID, ownerID string, distance float64) (models.RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.RideRequest{}, ErrRequestNotFound
	}
	if r.Status != models.RequestPending {
		return models.RideRequest{}, ErrRequestNotPending
	}
	r.SuggestedVehicleID = vehicleID
	r.SuggestedOwnerID = ownerID
	r.Distance = distance
	return cloneRequest(r), nil
}

// AddDeclined appends the vehicle to the declined set; repeated calls for the
// same vehicle are no-ops.
func (s *RequestStore) AddDeclined(id, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	for _, d := range r.DeclinedBy {
		if d == vehicleID {
			return nil
		}
	}
	r.DeclinedBy = append(r.DeclinedBy, vehicleID)
	return nil
}

// ListPending returns snapshots of all pending requests.
func (s *RequestStore) ListPending() []models.RideRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RideRequest, 0)
	for _, r := range s.requests {
		if r.Status == models.RequestPending {
			out = append(out, cloneRequest(r))
		}
	}
	return out
}

func cloneRequest(r *models.RideRequest) models.RideRequest {
	c := *r
	c.DeclinedBy = append([]string(nil), r.DeclinedBy...)
	return c
}
