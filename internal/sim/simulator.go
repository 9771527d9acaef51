package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/store"
)

// Config holds the movement and charging tunables. Tests shrink the delays
// to keep runs fast.
type Config struct {
	StepDelay           time.Duration
	SubStepsPerWaypoint int
	BatteryDrain        float64
	DrainPeriod         int
	PickupPause         time.Duration
	CompletionThreshold float64
	ChargeTick          time.Duration
	ChargeIncrement     float64
}

// Simulator drives vehicle movement and charging as background tasks, one
// per vehicle, registered with the Supervisor so they can be cancelled.
type Simulator struct {
	Vehicles *store.VehicleStore
	Requests *store.RequestStore
	History  store.HistoryStore
	Routes   route.Provider
	Geocoder geocode.Geocoder
	Ledger   payments.Ledger
	Fares    payments.FareHolder // optional, nil disables hold capture
	Notifier broadcast.Notifier
	Tasks    *Supervisor
	Logger   *slog.Logger
	Cfg      Config
}

// StartTrackedRide launches the movement task for an accepted request. The
// vehicle must already be held (status Working) by the caller.
func (s *Simulator) StartTrackedRide(req models.RideRequest) error {
	h := &RideHandle{
		VehicleID:  req.AssignedVehicleID,
		RideID:     req.ID,
		HistoryRef: req.ID,
		Dest:       req.Dropoff,
	}
	if err := s.Tasks.registerRide(h); err != nil {
		return err
	}
	observability.ActiveSimulations.Inc()
	go s.runRide(h, &req, req.Pickup, req.Dropoff)
	return nil
}

// StartPersonalRide sends an idle vehicle to a destination with no rider
// attached. Used by owners to summon or relocate their own car.
func (s *Simulator) StartPersonalRide(vehicleID string, dest models.Coord) (models.Vehicle, error) {
	v, err := s.Vehicles.TryAcquire(vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	h := &RideHandle{
		VehicleID:  vehicleID,
		HistoryRef: fmt.Sprintf("locate_%s_%d", vehicleID, time.Now().UnixNano()),
		Start:      v.Location,
		Dest:       dest,
	}
	if err := s.Tasks.registerRide(h); err != nil {
		// should not happen after a successful acquire; give the vehicle back
		s.Vehicles.Release(vehicleID, nil)
		return models.Vehicle{}, err
	}
	observability.ActiveSimulations.Inc()
	go s.runRide(h, nil, v.Location, dest)
	return v, nil
}

// CancelActive flags the vehicle's running ride task. The task stops at its
// next step; vehicle and request cleanup stays with the caller.
func (s *Simulator) CancelActive(vehicleID string) bool {
	return s.Tasks.CancelRide(vehicleID)
}

// CancelPersonal stops an owner-initiated ride and restores the vehicle to
// idle, writing a cancelled history record.
func (s *Simulator) CancelPersonal(vehicleID, reason string) error {
	h, ok := s.Tasks.RideFor(vehicleID)
	if !ok || h.RideID != "" {
		return ErrNoRide
	}
	h.Cancel()
	v, _ := s.Vehicles.ForceIdle(vehicleID, false)
	ctx := context.Background()
	_ = s.History.Append(models.HistoryRecord{
		RequestRef:   h.HistoryRef,
		RiderID:      v.OwnerID,
		VehicleID:    vehicleID,
		VehicleName:  v.Name,
		VehicleModel: v.Model,
		FromAddress:  geocode.Resolve(ctx, s.Geocoder, h.Start),
		ToAddress:    geocode.Resolve(ctx, s.Geocoder, h.Dest),
		Start:        h.Start,
		End:          v.Location,
		Status:       string(models.RequestCancelled),
		Reason:       reason,
		PersonalRide: true,
		Date:         time.Now().UTC(),
	})
	s.Notifier.Notify(broadcast.EventCarUpdate, telemetryFor(v, "", 0, "", 0, 0))
	observability.RidesConcluded.WithLabelValues("cancelled").Inc()
	return nil
}

// plan builds the waypoint list for a ride: one leg to the pickup point and
// one to the dropoff. markerIdx is the index of the first dropoff-leg
// waypoint; crossing it is the pickup arrival.
func (s *Simulator) plan(ctx context.Context, from, pickup, dropoff models.Coord) (wps []models.Coord, markerIdx int) {
	leg1, err := s.Routes.GetRoute(ctx, from, pickup)
	if err != nil || len(leg1) == 0 {
		leg1 = route.StraightLine(from, pickup)
	}
	leg2, err := s.Routes.GetRoute(ctx, pickup, dropoff)
	if err != nil || len(leg2) == 0 {
		leg2 = route.StraightLine(pickup, dropoff)
	}
	if len(leg2) > 1 {
		leg2 = leg2[1:] // pickup itself ends leg1
	}
	wps = append(append([]models.Coord{}, leg1...), leg2...)
	return wps, len(leg1)
}

func (s *Simulator) runRide(h *RideHandle, req *models.RideRequest, pickup, dropoff models.Coord) {
	defer s.Tasks.unregisterRide(h)
	defer observability.ActiveSimulations.Dec()

	log := s.Logger.With("vehicle_id", h.VehicleID, "ride_id", h.RideID)
	ctx := context.Background()

	veh, err := s.Vehicles.Get(h.VehicleID)
	if err != nil {
		log.Error("ride aborted, vehicle unknown", "error", err)
		return
	}

	wps, markerIdx := s.plan(ctx, veh.Location, pickup, dropoff)
	// the marker counts as a step of its own, matching the reported totals
	totalSteps := (len(wps) + 1) * s.Cfg.SubStepsPerWaypoint
	phase := "driving_to_pickup"

	if req != nil {
		s.Notifier.Notify(broadcast.EventRideStatusUpdate, map[string]any{
			"ride_id": req.ID,
			"status":  string(models.RequestAccepted),
			"phase":   phase,
			"car_id":  h.VehicleID,
		})
	}

	wpIdx, subStep := 0, 0
	arrived := false
	for step := 0; step < totalSteps; step++ {
		if h.Cancelled() {
			log.Info("ride task cancelled")
			return
		}

		if !arrived && wpIdx >= markerIdx {
			arrived = true
			veh = s.arriveAtPickup(ctx, h, req, pickup, log)
			if veh.ID == "" {
				return
			}
			phase = "driving_to_dropoff"
			continue
		}

		pos := positionAt(wps, wpIdx, subStep, s.Cfg.SubStepsPerWaypoint)
		subStep++
		if subStep >= s.Cfg.SubStepsPerWaypoint {
			subStep = 0
			wpIdx++
		}

		drain := 0.0
		if s.Cfg.DrainPeriod > 0 && step%s.Cfg.DrainPeriod == 0 {
			drain = s.Cfg.BatteryDrain
		}
		veh, err = s.Vehicles.UpdateLocationAndBattery(h.VehicleID, pos.Lat, pos.Lng, -drain)
		if err != nil {
			log.Error("ride aborted, vehicle vanished mid-ride", "error", err)
			return
		}

		if veh.Battery <= 0 {
			s.batteryDied(ctx, h, req, veh, log)
			return
		}

		progress := float64(step) / float64(totalSteps)
		if progress >= s.Cfg.CompletionThreshold {
			s.completeRide(ctx, h, req, dropoff, log)
			return
		}

		t := telemetryFor(veh, h.RideID, progress, phase, totalSteps-step, totalSteps)
		if !arrived {
			t.DriverETA = geo.FormatETA(geo.EstimateSeconds(veh.Location, pickup, 0))
		}
		s.Notifier.Notify(broadcast.EventCarUpdate, t)

		if wpIdx >= len(wps) {
			break
		}
		time.Sleep(s.Cfg.StepDelay)
	}

	// ran off the end of the waypoints before hitting the threshold
	s.completeRide(ctx, h, req, dropoff, log)
}

// arriveAtPickup snaps the vehicle onto the pickup point, announces the
// arrival, waits out the boarding pause and settles the fare. Payment
// failures are logged and the ride continues; the fare can be reconciled
// later from history.
func (s *Simulator) arriveAtPickup(ctx context.Context, h *RideHandle, req *models.RideRequest, pickup models.Coord, log *slog.Logger) models.Vehicle {
	veh, err := s.Vehicles.UpdateLocationAndBattery(h.VehicleID, pickup.Lat, pickup.Lng, 0)
	if err != nil {
		log.Error("pickup snap failed", "error", err)
		return models.Vehicle{}
	}
	if req == nil {
		return veh
	}

	s.Notifier.Notify(broadcast.EventDriverArrived, map[string]any{
		"ride_id": req.ID,
		"car_id":  h.VehicleID,
		"lat":     pickup.Lat,
		"lng":     pickup.Lng,
	})
	time.Sleep(s.Cfg.PickupPause)

	if req.FareHoldID != "" && s.Fares != nil {
		if err := s.Fares.Capture(ctx, req.FareHoldID); err != nil {
			log.Warn("fare hold capture failed", "hold_id", req.FareHoldID, "error", err)
		}
	}
	if req.FareEstimate > 0 {
		if err := payments.TransferFare(s.Ledger, req.RiderID, req.AssignedOwnerID, req.FareEstimate, req.ID); err != nil {
			log.Warn("fare transfer failed, ride continues", "error", err)
			s.Notifier.Notify(broadcast.EventPaymentFailed, map[string]any{
				"ride_id": req.ID,
				"error":   err.Error(),
			})
		} else {
			s.Notifier.Notify(broadcast.EventPaymentProcessed, map[string]any{
				"ride_id": req.ID,
				"amount":  req.FareEstimate,
			})
		}
	}

	if ok, _ := s.Requests.Transition(req.ID, models.RequestAccepted, models.RequestInProgress, nil); ok {
		s.Notifier.Notify(broadcast.EventRideStatusUpdate, map[string]any{
			"ride_id": req.ID,
			"status":  string(models.RequestInProgress),
			"phase":   "driving_to_dropoff",
			"car_id":  h.VehicleID,
		})
	}
	return veh
}

// batteryDied contains a mid-ride battery failure: the vehicle is parked
// where it stands with an empty battery and the ride is cancelled.
func (s *Simulator) batteryDied(ctx context.Context, h *RideHandle, req *models.RideRequest, veh models.Vehicle, log *slog.Logger) {
	log.Warn("battery drained mid-ride")
	v, _ := s.Vehicles.ForceIdle(h.VehicleID, true)
	const reason = "Battery dead"
	if req != nil {
		for _, from := range []models.RequestStatus{models.RequestInProgress, models.RequestAccepted} {
			now := time.Now().UTC()
			if ok, _ := s.Requests.Transition(req.ID, from, models.RequestCancelled, func(r *models.RideRequest) {
				r.Reason = reason
				r.CancelledAt = &now
				r.CancelledBy = "system"
			}); ok {
				break
			}
		}
	}
	s.writeHistory(ctx, h, req, v, v.Location, string(models.RequestCancelled), reason)
	s.Notifier.Notify(broadcast.EventRideCancelled, map[string]any{
		"ride_id": h.RideID,
		"car_id":  h.VehicleID,
		"reason":  reason,
	})
	s.Notifier.Notify(broadcast.EventCarUpdate, telemetryFor(v, "", 0, "", 0, 0))
	observability.RidesConcluded.WithLabelValues("battery_dead").Inc()
}

func (s *Simulator) completeRide(ctx context.Context, h *RideHandle, req *models.RideRequest, dropoff models.Coord, log *slog.Logger) {
	v, err := s.Vehicles.Release(h.VehicleID, &dropoff)
	if err != nil {
		log.Error("release at dropoff failed", "error", err)
		return
	}
	if req != nil {
		for _, from := range []models.RequestStatus{models.RequestInProgress, models.RequestAccepted} {
			now := time.Now().UTC()
			if ok, _ := s.Requests.Transition(req.ID, from, models.RequestCompleted, func(r *models.RideRequest) {
				r.CompletedAt = &now
			}); ok {
				break
			}
		}
	}
	s.writeHistory(ctx, h, req, v, dropoff, string(models.RequestCompleted), "")
	s.Notifier.Notify(broadcast.EventRideCompleted, map[string]any{
		"ride_id": h.RideID,
		"car_id":  h.VehicleID,
	})
	s.Notifier.Notify(broadcast.EventCarUpdate, telemetryFor(v, "", 0, "", 0, 0))
	log.Info("ride complete")
	observability.RidesConcluded.WithLabelValues("completed").Inc()
}

func (s *Simulator) writeHistory(ctx context.Context, h *RideHandle, req *models.RideRequest, veh models.Vehicle, end models.Coord, status, reason string) {
	rec := models.HistoryRecord{
		RequestRef:   h.HistoryRef,
		VehicleID:    h.VehicleID,
		VehicleName:  veh.Name,
		VehicleModel: veh.Model,
		End:          end,
		Status:       status,
		Reason:       reason,
		Date:         time.Now().UTC(),
	}
	if req != nil {
		rec.RiderID = req.RiderID
		rec.FromAddress = req.PickupAddress
		rec.ToAddress = req.DropoffAddress
		rec.Start = req.Pickup
		rec.Fare = req.FareEstimate
	} else {
		rec.RiderID = veh.OwnerID
		rec.FromAddress = geocode.Resolve(ctx, s.Geocoder, h.Start)
		rec.ToAddress = geocode.Resolve(ctx, s.Geocoder, h.Dest)
		rec.Start = h.Start
		rec.PersonalRide = true
	}
	if err := s.History.Append(rec); err != nil {
		s.Logger.Warn("history append failed", "ref", rec.RequestRef, "error", err)
	}
}

// positionAt interpolates between consecutive waypoints. The last waypoint
// holds its position through its sub-steps.
func positionAt(wps []models.Coord, wpIdx, subStep, subSteps int) models.Coord {
	if wpIdx >= len(wps) {
		return wps[len(wps)-1]
	}
	cur := wps[wpIdx]
	if wpIdx+1 >= len(wps) {
		return cur
	}
	next := wps[wpIdx+1]
	f := float64(subStep) / float64(subSteps)
	return models.Coord{
		Lat: cur.Lat + (next.Lat-cur.Lat)*f,
		Lng: cur.Lng + (next.Lng-cur.Lng)*f,
	}
}

func telemetryFor(v models.Vehicle, rideID string, progress float64, phase string, remaining, total int) models.Telemetry {
	return models.Telemetry{
		VehicleID:      v.ID,
		Lat:            v.Location.Lat,
		Lng:            v.Location.Lng,
		Battery:        v.Battery,
		Status:         v.Status,
		RideID:         rideID,
		Progress:       progress,
		Phase:          phase,
		RemainingSteps: remaining,
		TotalSteps:     total,
	}
}
