package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/models"
)

// fakeMirror implements FleetUpdater for tests
type fakeMirror struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  models.Telemetry
}

func (f *fakeMirror) Upsert(ctx context.Context, t models.Telemetry) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("mirror fail")
	}
	f.last = t
	return nil
}

func TestUpdateMirrorWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeMirror{fail: 1}
	tel := models.Telemetry{VehicleID: "car-1", Lat: 1, Lng: 2, Battery: 80, Status: models.VehicleIdle}
	start := time.Now()
	if err := updateMirrorWithRetry(context.Background(), f, tel, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls < 2 {
		t.Fatalf("expected retries, got calls=%d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.last.VehicleID != "car-1" {
		t.Fatalf("wrong telemetry applied: %+v", f.last)
	}
}

func TestUpdateMirrorWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeMirror{fail: 5}
	tel := models.Telemetry{VehicleID: "car-1"}
	if err := updateMirrorWithRetry(context.Background(), f, tel, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestDecodeTelemetry(t *testing.T) {
	good, _ := json.Marshal(broadcast.Envelope{
		Event: broadcast.EventCarUpdate,
		Data:  models.Telemetry{VehicleID: "car-1", Lat: 1, Lng: 2},
	})
	if tel, ok := decodeTelemetry(good); !ok || tel.VehicleID != "car-1" {
		t.Fatalf("decode = %+v, %v", tel, ok)
	}

	wrongEvent, _ := json.Marshal(broadcast.Envelope{Event: broadcast.EventRideAccepted, Data: map[string]any{}})
	if _, ok := decodeTelemetry(wrongEvent); ok {
		t.Fatal("non-telemetry event decoded")
	}
	if _, ok := decodeTelemetry([]byte("not json")); ok {
		t.Fatal("garbage decoded")
	}
}
