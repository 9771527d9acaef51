package sim

import (
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// StartCharging moves an idle vehicle into Charging and launches the tick
// loop. Working vehicles cannot charge; a second start for the same vehicle
// returns ErrAlreadyCharging.
func (s *Simulator) StartCharging(vehicleID string) (models.Vehicle, error) {
	if _, busy := s.Tasks.ChargeFor(vehicleID); busy {
		return models.Vehicle{}, ErrAlreadyCharging
	}
	v, err := s.Vehicles.TryStartCharging(vehicleID)
	if err != nil {
		return models.Vehicle{}, err
	}
	h := &ChargeHandle{VehicleID: vehicleID}
	if err := s.Tasks.registerCharge(h); err != nil {
		s.Vehicles.Release(vehicleID, nil)
		return models.Vehicle{}, err
	}
	observability.ChargingSessions.Inc()
	go s.runCharge(h)
	return v, nil
}

// PauseCharging flags the vehicle's charging task; the loop stops at its
// next tick and the vehicle returns to idle at its current charge level.
func (s *Simulator) PauseCharging(vehicleID string) error {
	h, ok := s.Tasks.ChargeFor(vehicleID)
	if !ok {
		return ErrNotCharging
	}
	h.Pause()
	return nil
}

// ResumeCharging clears a pause flag the loop has not yet observed. Once the
// loop has stopped, the session is gone and charging must be restarted.
func (s *Simulator) ResumeCharging(vehicleID string) error {
	h, ok := s.Tasks.ChargeFor(vehicleID)
	if !ok {
		return ErrNotCharging
	}
	h.Resume()
	return nil
}

func (s *Simulator) runCharge(h *ChargeHandle) {
	defer s.Tasks.unregisterCharge(h)
	defer observability.ChargingSessions.Dec()

	log := s.Logger.With("vehicle_id", h.VehicleID)
	for {
		if h.Paused() {
			log.Info("charging paused")
			break
		}
		v, err := s.Vehicles.Get(h.VehicleID)
		if err != nil {
			log.Error("charging aborted, vehicle unknown", "error", err)
			return
		}
		if v.Battery >= 100 {
			break
		}
		v, err = s.Vehicles.SetBattery(h.VehicleID, v.Battery+s.Cfg.ChargeIncrement)
		if err != nil {
			return
		}
		s.Notifier.Notify(broadcast.EventCarUpdate, telemetryFor(v, "", 0, "charging", 0, 0))
		time.Sleep(s.Cfg.ChargeTick)
	}

	v, err := s.Vehicles.Release(h.VehicleID, nil)
	if err != nil {
		return
	}
	log.Info("charging finished", "battery", v.Battery)
	s.Notifier.Notify(broadcast.EventCarUpdate, telemetryFor(v, "", 0, "", 0, 0))
}
