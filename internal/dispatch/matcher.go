package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/store"
)

var (
	ErrValidation = errors.New("missing required fields")
	ErrStaleOffer = errors.New("offer was extended to a different vehicle")
	ErrConflict   = errors.New("request is no longer in a state that allows this")
)

// RideRunner is the slice of the simulator the matcher needs: start a
// movement task for an accepted request, flag one for cancellation.
type RideRunner interface {
	StartTrackedRide(req models.RideRequest) error
	CancelActive(vehicleID string) bool
}

// Matcher owns the offer lifecycle: candidate selection, the single
// outstanding offer per request, decline bookkeeping and the offer timeout.
type Matcher struct {
	Vehicles *store.VehicleStore
	Requests *store.RequestStore
	History  store.HistoryStore
	Geocoder geocode.Geocoder
	Notifier broadcast.Notifier
	Runner   RideRunner
	Fares    payments.FareHolder // optional, nil disables holds
	Logger   *slog.Logger

	OfferTimeout time.Duration
	MinBattery   float64

	// afterFunc is swapped in tests to fire timeouts synchronously
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func (m *Matcher) after(d time.Duration, f func()) {
	if m.afterFunc != nil {
		m.afterFunc(d, f)
		return
	}
	time.AfterFunc(d, f)
}

type SubmitInput struct {
	RiderID      string
	RiderEmail   string
	Pickup       models.Coord
	Dropoff      models.Coord
	FareEstimate float64
}

// Submit records a new ride request and extends the first offer. When no
// vehicle qualifies the request comes back already declined.
func (m *Matcher) Submit(ctx context.Context, in SubmitInput) (models.RideRequest, error) {
	if in.RiderID == "" {
		return models.RideRequest{}, ErrValidation
	}
	req := models.RideRequest{
		ID:             newID(),
		RiderID:        in.RiderID,
		RiderEmail:     in.RiderEmail,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		PickupAddress:  geocode.Resolve(ctx, m.Geocoder, in.Pickup),
		DropoffAddress: geocode.Resolve(ctx, m.Geocoder, in.Dropoff),
		FareEstimate:   in.FareEstimate,
		Status:         models.RequestPending,
		CreatedAt:      time.Now().UTC(),
	}
	m.Requests.Create(req)
	m.Logger.Info("ride requested", "ride_id", req.ID, "rider_id", req.RiderID)
	m.reoffer(req.ID, "")
	return m.Requests.Get(req.ID)
}

// reoffer is the single rematch path: record the vehicle that just bowed out
// (declined or timed out), pick the nearest remaining candidate and extend
// the offer, or conclude the request as declined when nobody is left.
func (m *Matcher) reoffer(requestID, excludeVehicleID string) {
	if excludeVehicleID != "" {
		if err := m.Requests.AddDeclined(requestID, excludeVehicleID); err != nil {
			return
		}
	}
	r, err := m.Requests.Get(requestID)
	if err != nil || r.Status != models.RequestPending {
		return
	}

	best, dist, found := m.nearestCandidate(r)
	if !found {
		m.concludeDeclined(r)
		return
	}

	if _, err := m.Requests.Suggest(requestID, best.ID, best.OwnerID, dist); err != nil {
		return
	}
	observability.MatchesTotal.Inc()
	m.Logger.Info("offer extended",
		"ride_id", requestID, "vehicle_id", best.ID, "distance_m", dist)
	m.Notifier.NotifyDriver(best.OwnerID, broadcast.EventNewRideRequest, map[string]any{
		"ride_id":         requestID,
		"pickup":          r.Pickup,
		"dropoff":         r.Dropoff,
		"pickup_address":  r.PickupAddress,
		"dropoff_address": r.DropoffAddress,
		"fare_estimate":   r.FareEstimate,
		"distance":        dist,
		"target_car_id":   best.ID,
		"target_owner_id": best.OwnerID,
		"rider_id":        r.RiderID,
	})

	vehicleID := best.ID
	m.after(m.OfferTimeout, func() { m.offerTimedOut(requestID, vehicleID) })
}

// offerTimedOut fires for every offer ever extended; it is a no-op unless
// the request is still pending with that same vehicle suggested.
func (m *Matcher) offerTimedOut(requestID, vehicleID string) {
	r, err := m.Requests.Get(requestID)
	if err != nil || r.Status != models.RequestPending || r.SuggestedVehicleID != vehicleID {
		return
	}
	observability.OffersTimedOut.Inc()
	m.Logger.Info("offer timed out", "ride_id", requestID, "vehicle_id", vehicleID)
	m.reoffer(requestID, vehicleID)
}

// nearestCandidate scans the fleet for the closest idle vehicle with enough
// battery that has not already declined this request. Ties resolve to the
// earliest-registered vehicle.
func (m *Matcher) nearestCandidate(r models.RideRequest) (models.Vehicle, float64, bool) {
	declined := make(map[string]struct{}, len(r.DeclinedBy))
	for _, id := range r.DeclinedBy {
		declined[id] = struct{}{}
	}
	var best models.Vehicle
	bestDist := 0.0
	found := false
	for _, v := range m.Vehicles.List() {
		if v.Status != models.VehicleIdle || v.Battery <= m.MinBattery {
			continue
		}
		if _, skip := declined[v.ID]; skip {
			continue
		}
		d := geo.Distance(r.Pickup, v.Location)
		if !found || d < bestDist {
			best, bestDist, found = v, d, true
		}
	}
	return best, bestDist, found
}

func (m *Matcher) concludeDeclined(r models.RideRequest) {
	const reason = "No available drivers"
	ok, _ := m.Requests.Transition(r.ID, models.RequestPending, models.RequestDeclined, func(rr *models.RideRequest) {
		rr.Reason = reason
		rr.SuggestedVehicleID = ""
		rr.SuggestedOwnerID = ""
	})
	if !ok {
		return
	}
	observability.RequestsDeclined.Inc()
	m.Logger.Info("request declined, candidates exhausted", "ride_id", r.ID)
	m.Notifier.Notify(broadcast.EventRideDeclined, map[string]any{
		"ride_id": r.ID,
		"status":  string(models.RequestDeclined),
		"reason":  reason,
	})
}

// Accept claims an offer. The caller must present the exact vehicle and
// owner the offer was extended to; the pending-to-accepted transition is the
// only point where the race between two drivers is decided.
func (m *Matcher) Accept(ctx context.Context, requestID, vehicleID, ownerID string) (models.RideRequest, error) {
	r, err := m.Requests.Get(requestID)
	if err != nil {
		return models.RideRequest{}, err
	}
	if r.SuggestedVehicleID != vehicleID || r.SuggestedOwnerID != ownerID {
		return models.RideRequest{}, ErrStaleOffer
	}

	veh, err := m.Vehicles.TryAcquire(vehicleID)
	if err != nil {
		return models.RideRequest{}, err
	}

	// best-effort payment authorization; the ledger remains authoritative
	var holdID string
	if m.Fares != nil && r.FareEstimate > 0 {
		if id, err := m.Fares.Hold(ctx, int64(r.FareEstimate*100), "usd", r.RiderID); err != nil {
			m.Logger.Warn("fare hold failed", "ride_id", requestID, "error", err)
		} else {
			holdID = id
		}
	}

	now := time.Now().UTC()
	ok, err := m.Requests.Transition(requestID, models.RequestPending, models.RequestAccepted, func(rr *models.RideRequest) {
		rr.AssignedVehicleID = vehicleID
		rr.AssignedOwnerID = ownerID
		rr.FareHoldID = holdID
		rr.AcceptedAt = &now
	})
	if err != nil || !ok {
		m.Vehicles.Release(vehicleID, nil)
		if holdID != "" {
			_ = m.Fares.Cancel(ctx, holdID)
		}
		if err == nil {
			err = ErrConflict
		}
		return models.RideRequest{}, err
	}

	accepted, _ := m.Requests.Get(requestID)
	if err := m.Runner.StartTrackedRide(accepted); err != nil {
		m.Logger.Error("simulation start failed", "ride_id", requestID, "error", err)
	}
	m.Logger.Info("offer accepted", "ride_id", requestID, "vehicle_id", vehicleID)
	m.Notifier.Notify(broadcast.EventRideAccepted, map[string]any{
		"ride_id":       requestID,
		"car_id":        vehicleID,
		"owner_id":      ownerID,
		"vehicle_name":  veh.Name,
		"vehicle_model": veh.Model,
		"lat":           veh.Location.Lat,
		"lng":           veh.Location.Lng,
	})
	return accepted, nil
}

// Decline records a driver's refusal and immediately rematches. Duplicate
// declines are harmless.
func (m *Matcher) Decline(requestID, vehicleID string) error {
	r, err := m.Requests.Get(requestID)
	if err != nil {
		return err
	}
	if r.Status != models.RequestPending {
		return nil
	}
	if vehicleID == "" {
		vehicleID = r.SuggestedVehicleID
	}
	m.Logger.Info("offer declined", "ride_id", requestID, "vehicle_id", vehicleID)
	m.reoffer(requestID, vehicleID)
	return nil
}

// Cancel aborts a request on behalf of the rider or an operator. A running
// simulation is flagged to stop and the vehicle is returned to idle.
func (m *Matcher) Cancel(requestID, cancelledBy, reason string) error {
	r, err := m.Requests.Get(requestID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ok, _ := m.Requests.Transition(requestID, r.Status, models.RequestCancelled, func(rr *models.RideRequest) {
		rr.CancelledBy = cancelledBy
		rr.Reason = reason
		rr.CancelledAt = &now
	})
	if !ok {
		return ErrConflict
	}

	if r.FareHoldID != "" && m.Fares != nil {
		if err := m.Fares.Cancel(context.Background(), r.FareHoldID); err != nil {
			m.Logger.Warn("fare hold release failed", "ride_id", requestID, "error", err)
		}
	}
	if r.AssignedVehicleID != "" {
		m.Runner.CancelActive(r.AssignedVehicleID)
		if v, present := m.Vehicles.ForceIdle(r.AssignedVehicleID, false); present {
			m.Notifier.Notify(broadcast.EventCarUpdate, models.Telemetry{
				VehicleID: v.ID, Lat: v.Location.Lat, Lng: v.Location.Lng,
				Battery: v.Battery, Status: v.Status,
			})
		}
		m.writeCancelledHistory(r, reason)
	}

	m.Logger.Info("ride cancelled", "ride_id", requestID, "by", cancelledBy)
	m.Notifier.Notify(broadcast.EventRideCancelled, map[string]any{
		"ride_id": requestID,
		"reason":  reason,
		"by":      cancelledBy,
	})
	observability.RidesConcluded.WithLabelValues("cancelled").Inc()
	return nil
}

// Complete finishes an accepted or in-progress ride without waiting for the
// simulation, e.g. when the rider confirms arrival manually.
func (m *Matcher) Complete(requestID string) (models.RideRequest, error) {
	r, err := m.Requests.Get(requestID)
	if err != nil {
		return models.RideRequest{}, err
	}
	now := time.Now().UTC()
	done := false
	for _, from := range []models.RequestStatus{models.RequestInProgress, models.RequestAccepted} {
		if ok, _ := m.Requests.Transition(requestID, from, models.RequestCompleted, func(rr *models.RideRequest) {
			rr.CompletedAt = &now
		}); ok {
			done = true
			break
		}
	}
	if !done {
		return models.RideRequest{}, ErrConflict
	}

	if r.AssignedVehicleID != "" {
		m.Runner.CancelActive(r.AssignedVehicleID)
		m.Vehicles.Release(r.AssignedVehicleID, &r.Dropoff)
	}
	m.writeCompletedHistory(r)
	m.Notifier.Notify(broadcast.EventRideCompleted, map[string]any{
		"ride_id": requestID,
		"car_id":  r.AssignedVehicleID,
	})
	observability.RidesConcluded.WithLabelValues("completed").Inc()
	return m.Requests.Get(requestID)
}

func (m *Matcher) writeCancelledHistory(r models.RideRequest, reason string) {
	m.appendHistory(r, string(models.RequestCancelled), reason)
}

func (m *Matcher) writeCompletedHistory(r models.RideRequest) {
	m.appendHistory(r, string(models.RequestCompleted), "")
}

func (m *Matcher) appendHistory(r models.RideRequest, status, reason string) {
	veh, _ := m.Vehicles.Get(r.AssignedVehicleID)
	err := m.History.Append(models.HistoryRecord{
		RequestRef:   r.ID,
		RiderID:      r.RiderID,
		VehicleID:    r.AssignedVehicleID,
		VehicleName:  veh.Name,
		VehicleModel: veh.Model,
		FromAddress:  r.PickupAddress,
		ToAddress:    r.DropoffAddress,
		Start:        r.Pickup,
		End:          r.Dropoff,
		Fare:         r.FareEstimate,
		Status:       status,
		Reason:       reason,
		Date:         time.Now().UTC(),
	})
	if err != nil {
		m.Logger.Warn("history append failed", "ride_id", r.ID, "error", err)
	}
}

func newID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return hex.EncodeToString(b)
}
