package store

import (
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// HistoryStore persists concluded rides. Append is idempotent per RequestRef:
// completion can be triggered from more than one code path.
type HistoryStore interface {
	Append(rec models.HistoryRecord) error
	ListByUser(userID string, vehicleIDs []string) ([]models.HistoryRecord, error)
}

type MemoryHistory struct {
	mu      sync.RWMutex
	records []models.HistoryRecord
	seen    map[string]bool
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{seen: make(map[string]bool)}
}

func (m *MemoryHistory) Append(rec models.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[rec.RequestRef] {
		return nil
	}
	m.seen[rec.RequestRef] = true
	m.records = append(m.records, rec)
	return nil
}

// ListByUser returns rides where the user was the rider or owned one of the
// listed vehicles, newest first, deduplicated by RequestRef.
func (m *MemoryHistory) ListByUser(userID string, vehicleIDs []string) ([]models.HistoryRecord, error) {
	owned := make(map[string]bool, len(vehicleIDs))
	for _, id := range vehicleIDs {
		owned[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.HistoryRecord, 0)
	for _, r := range m.records {
		if r.RiderID == userID || owned[r.VehicleID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// Len is a test helper.
func (m *MemoryHistory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
