package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func newVehicle(id string) models.Vehicle {
	return models.Vehicle{ID: id, OwnerID: "owner-" + id, Battery: 100, Location: models.Coord{Lat: 51.45, Lng: -2.58}}
}

func TestTryAcquireIdleToWorking(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("v1"))

	v, err := s.TryAcquire("v1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if v.Status != models.VehicleWorking {
		t.Fatalf("expected Working, got %s", v.Status)
	}

	if _, err := s.TryAcquire("v1"); !errors.Is(err, ErrVehicleBusy) {
		t.Fatalf("second acquire should be busy, got %v", err)
	}
}

func TestTryAcquireConcurrentSingleWinner(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("v1"))

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TryAcquire("v1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestTryAcquireChargingIsBusy(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("v1"))
	if _, err := s.TryStartCharging("v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryAcquire("v1"); !errors.Is(err, ErrVehicleBusy) {
		t.Fatalf("charging vehicle must be busy, got %v", err)
	}
}

func TestTryAcquireNotFound(t *testing.T) {
	s := NewVehicleStore()
	if _, err := s.TryAcquire("missing"); !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestUpdateLocationAndBatteryClamps(t *testing.T) {
	s := NewVehicleStore()
	v := newVehicle("v1")
	v.Battery = 0.2
	s.Add(v)

	got, err := s.UpdateLocationAndBattery("v1", 1, 2, -0.3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Battery != 0 {
		t.Fatalf("battery must clamp at 0, got %f", got.Battery)
	}
	if got.Location.Lat != 1 || got.Location.Lng != 2 {
		t.Fatalf("location not applied: %+v", got.Location)
	}
}

func TestReleaseSetsIdleAtLocation(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("v1"))
	if _, err := s.TryAcquire("v1"); err != nil {
		t.Fatal(err)
	}
	at := models.Coord{Lat: 9, Lng: 9}
	v, err := s.Release("v1", &at)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != models.VehicleIdle || v.Location != at {
		t.Fatalf("got %+v", v)
	}
}

func TestForceIdleDrained(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("v1"))
	if _, err := s.TryAcquire("v1"); err != nil {
		t.Fatal(err)
	}
	v, ok := s.ForceIdle("v1", true)
	if !ok {
		t.Fatal("vehicle should exist")
	}
	if v.Status != models.VehicleIdle || v.Battery != 0 {
		t.Fatalf("got status=%s battery=%f", v.Status, v.Battery)
	}
}

func TestResetStuck(t *testing.T) {
	s := NewVehicleStore()
	s.Add(newVehicle("a"))
	s.Add(newVehicle("b"))
	s.Add(newVehicle("c"))
	if _, err := s.TryAcquire("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryStartCharging("b"); err != nil {
		t.Fatal(err)
	}

	if n := s.ResetStuck(); n != 2 {
		t.Fatalf("expected 2 reset, got %d", n)
	}
	for _, v := range s.List() {
		if v.Status != models.VehicleIdle {
			t.Fatalf("vehicle %s left in %s", v.ID, v.Status)
		}
	}
}

func TestListInsertionOrder(t *testing.T) {
	s := NewVehicleStore()
	for _, id := range []string{"x", "y", "z"} {
		s.Add(newVehicle(id))
	}
	got := s.List()
	if len(got) != 3 || got[0].ID != "x" || got[1].ID != "y" || got[2].ID != "z" {
		t.Fatalf("unexpected order: %+v", got)
	}
}
