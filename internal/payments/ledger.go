package payments

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrZeroAmount = errors.New("amount cannot be zero")

// Ledger records money movement. There is no balance; each entry is an
// append-only fact per user.
type Ledger interface {
	RecordTransaction(userID string, amount float64, kind, description string) error
	GetTransactions(userID string) ([]models.Transaction, error)
}

type MemoryLedger struct {
	mu      sync.RWMutex
	entries []models.Transaction
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) RecordTransaction(userID string, amount float64, kind, description string) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, models.Transaction{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		Timestamp:   time.Now(),
	})
	return nil
}

func (l *MemoryLedger) GetTransactions(userID string) ([]models.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// TransferFare debits the rider and credits the driver for one ride. Both
// legs are recorded; a failure on the first leg aborts before the second.
func TransferFare(l Ledger, riderID, driverID string, amount float64, rideID string) error {
	if amount <= 0 {
		return fmt.Errorf("fare must be positive, got %f", amount)
	}
	if err := l.RecordTransaction(riderID, -amount, "ride_payment", "Ride fare payment"); err != nil {
		return err
	}
	return l.RecordTransaction(driverID, amount, "ride_earning", "Ride fare received")
}
