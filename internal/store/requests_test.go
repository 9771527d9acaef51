package store

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func pendingRequest(id string) models.RideRequest {
	return models.RideRequest{
		ID:      id,
		RiderID: "rider-1",
		Status:  models.RequestPending,
		Pickup:  models.Coord{Lat: 0, Lng: 0},
		Dropoff: models.Coord{Lat: 0, Lng: 1},
	}
}

func TestTransitionCAS(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))

	ok, err := s.Transition("r1", models.RequestPending, models.RequestAccepted, func(r *models.RideRequest) {
		now := time.Now()
		r.AcceptedAt = &now
		r.AssignedVehicleID = "v1"
	})
	if err != nil || !ok {
		t.Fatalf("accept failed: ok=%v err=%v", ok, err)
	}

	// second accept loses the CAS
	ok, err = s.Transition("r1", models.RequestPending, models.RequestAccepted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("double accept must fail the compare-and-set")
	}

	r, _ := s.Get("r1")
	if r.Status != models.RequestAccepted || r.AssignedVehicleID != "v1" {
		t.Fatalf("got %+v", r)
	}
}

func TestTransitionIllegal(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))
	if _, err := s.Transition("r1", models.RequestCompleted, models.RequestPending, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.Transition("r1", models.RequestPending, models.RequestInProgress, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->in_progress must be illegal, got %v", err)
	}
}

func TestAddDeclinedIdempotent(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))
	for i := 0; i < 3; i++ {
		if err := s.AddDeclined("r1", "v1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AddDeclined("r1", "v2"); err != nil {
		t.Fatal(err)
	}
	r, _ := s.Get("r1")
	if len(r.DeclinedBy) != 2 {
		t.Fatalf("expected 2 declined entries, got %v", r.DeclinedBy)
	}
}

func TestSuggestOnlyWhilePending(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))
	if _, err := s.Suggest("r1", "v1", "o1", 1234); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Transition("r1", models.RequestPending, models.RequestDeclined, nil); !ok {
		t.Fatal("decline transition failed")
	}
	if _, err := s.Suggest("r1", "v2", "o2", 99); !errors.Is(err, ErrRequestNotPending) {
		t.Fatalf("got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))
	_ = s.AddDeclined("r1", "v1")
	r, _ := s.Get("r1")
	r.DeclinedBy[0] = "mutated"
	again, _ := s.Get("r1")
	if again.DeclinedBy[0] != "v1" {
		t.Fatal("Get must return an isolated copy")
	}
}

func TestListPending(t *testing.T) {
	s := NewRequestStore()
	s.Create(pendingRequest("r1"))
	s.Create(pendingRequest("r2"))
	if ok, _ := s.Transition("r2", models.RequestPending, models.RequestCancelled, nil); !ok {
		t.Fatal("cancel failed")
	}
	got := s.ListPending()
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("got %+v", got)
	}
}
