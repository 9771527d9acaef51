package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

type fakeRunner struct {
	mu        sync.Mutex
	started   []models.RideRequest
	cancelled []string
}

func (f *fakeRunner) StartTrackedRide(req models.RideRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return nil
}

func (f *fakeRunner) CancelActive(vehicleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, vehicleID)
	return true
}

// timerTrap captures timeout callbacks so tests fire them deterministically.
type timerTrap struct {
	mu  sync.Mutex
	fns []func()
}

func (tt *timerTrap) afterFunc(d time.Duration, f func()) *time.Timer {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.fns = append(tt.fns, f)
	return nil
}

func (tt *timerTrap) fire(i int) {
	tt.mu.Lock()
	f := tt.fns[i]
	tt.mu.Unlock()
	f()
}

func testMatcher() (*Matcher, *fakeRunner, *timerTrap) {
	runner := &fakeRunner{}
	trap := &timerTrap{}
	m := &Matcher{
		Vehicles:     store.NewVehicleStore(),
		Requests:     store.NewRequestStore(),
		History:      store.NewMemoryHistory(),
		Notifier:     broadcast.Nop{},
		Runner:       runner,
		Logger:       slog.Default(),
		OfferTimeout: 15 * time.Second,
		MinBattery:   20,
		afterFunc:    trap.afterFunc,
	}
	return m, runner, trap
}

func addVehicle(m *Matcher, id, owner string, lat float64, battery float64, status models.VehicleStatus) {
	m.Vehicles.Add(models.Vehicle{
		ID: id, OwnerID: owner, Status: status, Battery: battery,
		Location: models.Coord{Lat: lat, Lng: 0},
	})
}

func submit(t *testing.T, m *Matcher) models.RideRequest {
	t.Helper()
	r, err := m.Submit(context.Background(), SubmitInput{
		RiderID:      "rider-1",
		Pickup:       models.Coord{Lat: 0, Lng: 0},
		Dropoff:      models.Coord{Lat: 0.01, Lng: 0},
		FareEstimate: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSubmitOffersNearestEligible(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "near-low", "o1", 0.001, 15, models.VehicleIdle)     // battery too low
	addVehicle(m, "near-busy", "o2", 0.002, 90, models.VehicleWorking) // busy
	addVehicle(m, "mid", "o3", 0.003, 90, models.VehicleIdle)
	addVehicle(m, "far", "o4", 0.010, 90, models.VehicleIdle)

	r := submit(t, m)
	if r.Status != models.RequestPending {
		t.Fatalf("status = %s, want pending", r.Status)
	}
	if r.SuggestedVehicleID != "mid" || r.SuggestedOwnerID != "o3" {
		t.Errorf("suggested %s/%s, want mid/o3", r.SuggestedVehicleID, r.SuggestedOwnerID)
	}
	if r.Distance <= 0 {
		t.Error("offer missing distance")
	}
}

func TestSubmitWithNoCandidatesDeclines(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "low", "o1", 0.001, 10, models.VehicleIdle)

	r := submit(t, m)
	if r.Status != models.RequestDeclined {
		t.Fatalf("status = %s, want declined", r.Status)
	}
	if r.Reason != "No available drivers" {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestSubmitRequiresRider(t *testing.T) {
	m, _, _ := testMatcher()
	if _, err := m.Submit(context.Background(), SubmitInput{}); err != ErrValidation {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestAcceptClaimsVehicleAndStartsRide(t *testing.T) {
	m, runner, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)

	accepted, err := m.Accept(context.Background(), r.ID, "car-1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != models.RequestAccepted || accepted.AssignedVehicleID != "car-1" {
		t.Errorf("accepted = %+v", accepted)
	}
	v, _ := m.Vehicles.Get("car-1")
	if v.Status != models.VehicleWorking {
		t.Errorf("vehicle status = %s, want Working", v.Status)
	}
	if len(runner.started) != 1 || runner.started[0].ID != r.ID {
		t.Errorf("runner started %+v, want one ride %s", runner.started, r.ID)
	}
}

func TestAcceptRejectsWrongVehicle(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	addVehicle(m, "car-2", "o2", 0.005, 90, models.VehicleIdle)
	r := submit(t, m)

	if _, err := m.Accept(context.Background(), r.ID, "car-2", "o2"); err != ErrStaleOffer {
		t.Errorf("err = %v, want ErrStaleOffer", err)
	}
	v, _ := m.Vehicles.Get("car-2")
	if v.Status != models.VehicleIdle {
		t.Error("rejected accept must not claim the vehicle")
	}
}

func TestAcceptTwiceFails(t *testing.T) {
	m, runner, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)

	if _, err := m.Accept(context.Background(), r.ID, "car-1", "o1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Accept(context.Background(), r.ID, "car-1", "o1"); err == nil {
		t.Error("second accept succeeded")
	}
	if len(runner.started) != 1 {
		t.Errorf("ride started %d times", len(runner.started))
	}
}

func TestDeclineMovesOfferToNextCandidate(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	addVehicle(m, "car-2", "o2", 0.005, 90, models.VehicleIdle)
	r := submit(t, m)

	if err := m.Decline(r.ID, "car-1"); err != nil {
		t.Fatal(err)
	}
	r2, _ := m.Requests.Get(r.ID)
	if r2.SuggestedVehicleID != "car-2" {
		t.Errorf("suggested = %s, want car-2", r2.SuggestedVehicleID)
	}
	if len(r2.DeclinedBy) != 1 || r2.DeclinedBy[0] != "car-1" {
		t.Errorf("declinedBy = %v", r2.DeclinedBy)
	}

	// replaying the decline must not disturb the new offer
	if err := m.Decline(r.ID, "car-1"); err != nil {
		t.Fatal(err)
	}
	r3, _ := m.Requests.Get(r.ID)
	if r3.SuggestedVehicleID != "car-2" || len(r3.DeclinedBy) != 1 {
		t.Errorf("replayed decline changed state: %+v", r3)
	}
}

func TestDeclineByLastCandidateConcludesRequest(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)

	if err := m.Decline(r.ID, "car-1"); err != nil {
		t.Fatal(err)
	}
	r2, _ := m.Requests.Get(r.ID)
	if r2.Status != models.RequestDeclined {
		t.Errorf("status = %s, want declined", r2.Status)
	}
}

func TestTimeoutRematches(t *testing.T) {
	m, _, trap := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	addVehicle(m, "car-2", "o2", 0.005, 90, models.VehicleIdle)
	r := submit(t, m)

	trap.fire(0)
	r2, _ := m.Requests.Get(r.ID)
	if r2.SuggestedVehicleID != "car-2" {
		t.Errorf("suggested = %s, want car-2 after timeout", r2.SuggestedVehicleID)
	}
	if len(r2.DeclinedBy) != 1 || r2.DeclinedBy[0] != "car-1" {
		t.Errorf("declinedBy = %v", r2.DeclinedBy)
	}
}

func TestTimeoutIsNoopAfterAccept(t *testing.T) {
	m, runner, trap := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	addVehicle(m, "car-2", "o2", 0.005, 90, models.VehicleIdle)
	r := submit(t, m)

	if _, err := m.Accept(context.Background(), r.ID, "car-1", "o1"); err != nil {
		t.Fatal(err)
	}
	trap.fire(0)

	r2, _ := m.Requests.Get(r.ID)
	if r2.Status != models.RequestAccepted || r2.AssignedVehicleID != "car-1" {
		t.Errorf("timeout disturbed accepted ride: %+v", r2)
	}
	if len(runner.started) != 1 {
		t.Errorf("ride started %d times", len(runner.started))
	}
}

func TestTimeoutIsNoopAfterRematch(t *testing.T) {
	m, _, trap := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	addVehicle(m, "car-2", "o2", 0.005, 90, models.VehicleIdle)
	r := submit(t, m)

	// decline moves the offer to car-2; the stale car-1 watcher must not
	// push the offer onward again
	if err := m.Decline(r.ID, "car-1"); err != nil {
		t.Fatal(err)
	}
	trap.fire(0)

	r2, _ := m.Requests.Get(r.ID)
	if r2.Status != models.RequestPending || r2.SuggestedVehicleID != "car-2" {
		t.Errorf("stale watcher disturbed offer: %+v", r2)
	}
}

func TestCancelPendingRequest(t *testing.T) {
	m, _, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)

	if err := m.Cancel(r.ID, "rider-1", "changed my mind"); err != nil {
		t.Fatal(err)
	}
	r2, _ := m.Requests.Get(r.ID)
	if r2.Status != models.RequestCancelled || r2.CancelledBy != "rider-1" {
		t.Errorf("request = %+v", r2)
	}
	// pending cancel touches no vehicle
	v, _ := m.Vehicles.Get("car-1")
	if v.Status != models.VehicleIdle {
		t.Errorf("vehicle status = %s", v.Status)
	}
}

func TestCancelActiveRideReleasesVehicle(t *testing.T) {
	m, runner, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)
	if _, err := m.Accept(context.Background(), r.ID, "car-1", "o1"); err != nil {
		t.Fatal(err)
	}

	if err := m.Cancel(r.ID, "rider-1", "emergency"); err != nil {
		t.Fatal(err)
	}
	if len(runner.cancelled) != 1 || runner.cancelled[0] != "car-1" {
		t.Errorf("runner cancelled %v, want [car-1]", runner.cancelled)
	}
	v, _ := m.Vehicles.Get("car-1")
	if v.Status != models.VehicleIdle {
		t.Errorf("vehicle status = %s, want Idle", v.Status)
	}
	recs, _ := m.History.ListByUser("rider-1", nil)
	if len(recs) != 1 || recs[0].Status != string(models.RequestCancelled) {
		t.Errorf("history = %+v", recs)
	}

	if err := m.Cancel(r.ID, "rider-1", "again"); err != ErrConflict {
		t.Errorf("cancel of cancelled ride = %v, want ErrConflict", err)
	}
}

func TestCompleteFinishesAcceptedRide(t *testing.T) {
	m, runner, _ := testMatcher()
	addVehicle(m, "car-1", "o1", 0.001, 90, models.VehicleIdle)
	r := submit(t, m)
	if _, err := m.Accept(context.Background(), r.ID, "car-1", "o1"); err != nil {
		t.Fatal(err)
	}

	done, err := m.Complete(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.RequestCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if len(runner.cancelled) != 1 {
		t.Error("running simulation was not stopped")
	}
	v, _ := m.Vehicles.Get("car-1")
	if v.Status != models.VehicleIdle || v.Location != r.Dropoff {
		t.Errorf("vehicle = %+v, want idle at dropoff", v)
	}

	if _, err := m.Complete(r.ID); err != ErrConflict {
		t.Errorf("double complete = %v, want ErrConflict", err)
	}
}
