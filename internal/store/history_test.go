package store

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHistoryAppendIdempotent(t *testing.T) {
	h := NewMemoryHistory()
	rec := models.HistoryRecord{RequestRef: "r1", RiderID: "u1", VehicleID: "v1", Status: "completed", Date: time.Now()}
	if err := h.Append(rec); err != nil {
		t.Fatal(err)
	}
	// duplicate completion trigger
	rec.Reason = "different reason, same ride"
	if err := h.Append(rec); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 1 {
		t.Fatalf("expected one record, got %d", h.Len())
	}
}

func TestHistoryListByUserMergesRiderAndOwner(t *testing.T) {
	h := NewMemoryHistory()
	base := time.Now()
	_ = h.Append(models.HistoryRecord{RequestRef: "a", RiderID: "u1", VehicleID: "other", Date: base.Add(-2 * time.Hour)})
	_ = h.Append(models.HistoryRecord{RequestRef: "b", RiderID: "someone", VehicleID: "v-owned", Date: base.Add(-1 * time.Hour)})
	_ = h.Append(models.HistoryRecord{RequestRef: "c", RiderID: "stranger", VehicleID: "unrelated", Date: base})

	got, err := h.ListByUser("u1", []string{"v-owned"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if !got[0].Date.After(got[1].Date) {
		t.Fatal("expected newest first")
	}
}
