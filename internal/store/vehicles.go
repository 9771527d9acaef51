package store

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrVehicleBusy     = errors.New("vehicle busy")
)

// VehicleStore is the single source of truth for vehicle state. Every
// mutation happens under the store lock, so concurrent simulators observe a
// consistent status/battery/location triple. Callers hold vehicle IDs, never
// Vehicle values; Get returns snapshots.
type VehicleStore struct {
	mu       sync.RWMutex
	vehicles map[string]*models.Vehicle
	order    []string // insertion order, keeps candidate iteration deterministic
}

func NewVehicleStore() *VehicleStore {
	return &VehicleStore{vehicles: make(map[string]*models.Vehicle)}
}

func (s *VehicleStore) Add(v models.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Status == "" {
		v.Status = models.VehicleIdle
	}
	v.Updated = time.Now()
	if _, ok := s.vehicles[v.ID]; !ok {
		s.order = append(s.order, v.ID)
	}
	s.vehicles[v.ID] = &v
}

func (s *VehicleStore) Get(id string) (models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	return *v, nil
}

// TryAcquire atomically moves an Idle vehicle to Working and returns its
// snapshot. A vehicle that is Working or Charging yields ErrVehicleBusy.
func (s *VehicleStore) TryAcquire(id string) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	if v.Status != models.VehicleIdle {
		return models.Vehicle{}, ErrVehicleBusy
	}
	v.Status = models.VehicleWorking
	v.Updated = time.Now()
	return *v, nil
}

// TryStartCharging atomically moves an Idle vehicle to Charging.
func (s *VehicleStore) TryStartCharging(id string) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	if v.Status != models.VehicleIdle {
		return models.Vehicle{}, ErrVehicleBusy
	}
	v.Status = models.VehicleCharging
	v.Updated = time.Now()
	return *v, nil
}

// UpdateLocationAndBattery applies a position plus battery delta in one
// atomic write and returns the resulting snapshot. Battery is clamped to
// [0,100].
func (s *VehicleStore) UpdateLocationAndBattery(id string, lat, lng, batteryDelta float64) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	v.Location = models.Coord{Lat: lat, Lng: lng}
	v.Battery = clampBattery(v.Battery + batteryDelta)
	v.Updated = time.Now()
	return *v, nil
}

// SetBattery overwrites the battery level, clamped, and returns the snapshot.
func (s *VehicleStore) SetBattery(id string, battery float64) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	v.Battery = clampBattery(battery)
	v.Updated = time.Now()
	return *v, nil
}

// Release sets the vehicle Idle, optionally pinning its final location.
func (s *VehicleStore) Release(id string, at *models.Coord) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, ErrVehicleNotFound
	}
	v.Status = models.VehicleIdle
	if at != nil {
		v.Location = *at
	}
	v.Updated = time.Now()
	return *v, nil
}

// ForceIdle is the crash-containment variant of Release: never fails on a
// present vehicle, also zeroing the battery when drained is set.
func (s *VehicleStore) ForceIdle(id string, drained bool) (models.Vehicle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, false
	}
	v.Status = models.VehicleIdle
	if drained {
		v.Battery = 0
	}
	v.Updated = time.Now()
	return *v, true
}

// List returns snapshots in insertion order.
func (s *VehicleStore) List() []models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.vehicles[id])
	}
	return out
}

// ResetStuck flips any Working/Charging vehicle back to Idle. Run once at
// startup so a crashed process never leaves vehicles unserviceable.
func (s *VehicleStore) ResetStuck() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.vehicles {
		if v.Status == models.VehicleWorking || v.Status == models.VehicleCharging {
			v.Status = models.VehicleIdle
			v.Updated = time.Now()
			n++
		}
	}
	return n
}

func clampBattery(b float64) float64 {
	if b < 0 {
		return 0
	}
	if b > 100 {
		return 100
	}
	return b
}
