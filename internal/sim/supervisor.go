package sim

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrRideActive      = errors.New("vehicle already has an active ride")
	ErrNoRide          = errors.New("no active ride for vehicle")
	ErrAlreadyCharging = errors.New("vehicle already charging")
	ErrNotCharging     = errors.New("vehicle is not charging")
)

// RideHandle is the cancellation primitive for one ride task. Setting the
// flag is observed by the simulator at its next step boundary; there is no
// hard preemption.
type RideHandle struct {
	VehicleID string
	RideID    string // empty for personal rides

	// personal-ride context, needed to write history on cancellation
	HistoryRef string
	Start      models.Coord
	Dest       models.Coord

	cancelled atomic.Bool
}

func (h *RideHandle) Cancel()         { h.cancelled.Store(true) }
func (h *RideHandle) Cancelled() bool { return h.cancelled.Load() }

// ChargeHandle is the pause primitive for one charging task.
type ChargeHandle struct {
	VehicleID string
	paused    atomic.Bool
}

func (h *ChargeHandle) Pause()       { h.paused.Store(true) }
func (h *ChargeHandle) Resume()      { h.paused.Store(false) }
func (h *ChargeHandle) Paused() bool { return h.paused.Load() }

// Supervisor is the per-vehicle task registry: at most one ride task and one
// charging task per vehicle, discoverable for cancellation. Handles are
// inserted when a task starts and removed when it terminates, so a crashed
// task never leaves a stale entry behind its own defer.
type Supervisor struct {
	mu      sync.Mutex
	rides   map[string]*RideHandle
	charges map[string]*ChargeHandle
}

func NewSupervisor() *Supervisor {
	return &Supervisor{rides: make(map[string]*RideHandle), charges: make(map[string]*ChargeHandle)}
}

func (s *Supervisor) registerRide(h *RideHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[h.VehicleID]; ok {
		return ErrRideActive
	}
	s.rides[h.VehicleID] = h
	return nil
}

func (s *Supervisor) unregisterRide(h *RideHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rides[h.VehicleID]; ok && cur == h {
		delete(s.rides, h.VehicleID)
	}
}

// RideFor returns the active ride handle for a vehicle, if any.
func (s *Supervisor) RideFor(vehicleID string) (*RideHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rides[vehicleID]
	return h, ok
}

// CancelRide flags the vehicle's active ride task for cancellation.
func (s *Supervisor) CancelRide(vehicleID string) bool {
	if h, ok := s.RideFor(vehicleID); ok {
		h.Cancel()
		return true
	}
	return false
}

func (s *Supervisor) registerCharge(h *ChargeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.charges[h.VehicleID]; ok {
		return ErrAlreadyCharging
	}
	s.charges[h.VehicleID] = h
	return nil
}

func (s *Supervisor) unregisterCharge(h *ChargeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.charges[h.VehicleID]; ok && cur == h {
		delete(s.charges, h.VehicleID)
	}
}

// ChargeFor returns the active charging handle for a vehicle, if any.
func (s *Supervisor) ChargeFor(vehicleID string) (*ChargeHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.charges[vehicleID]
	return h, ok
}
