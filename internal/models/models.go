package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleStatus is the vehicle lifecycle state. A vehicle is never readable
// in any other state.
type VehicleStatus string

const (
	VehicleIdle     VehicleStatus = "Idle"
	VehicleWorking  VehicleStatus = "Working"
	VehicleCharging VehicleStatus = "Charging"
)

type Vehicle struct {
	ID       string        `json:"id"`
	OwnerID  string        `json:"owner_id"`
	Name     string        `json:"name"`
	Model    string        `json:"model"`
	Status   VehicleStatus `json:"status"`
	Battery  float64       `json:"battery"` // 0..100
	Location Coord         `json:"location"`
	Updated  time.Time     `json:"updated"`
}

// RequestStatus is the ride request lifecycle state.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
	RequestDeclined   RequestStatus = "declined"
)

// AllowedTransitions encodes the request state flow. Anything not listed is
// rejected by the store.
var AllowedTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestAccepted, RequestCancelled, RequestDeclined},
	RequestAccepted:   {RequestInProgress, RequestCompleted, RequestCancelled},
	RequestInProgress: {RequestCompleted, RequestCancelled},
}

func CanTransition(from, to RequestStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a request can no longer change state.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled || s == RequestDeclined
}

type RideRequest struct {
	ID             string        `json:"id"`
	RiderID        string        `json:"rider_id"`
	RiderEmail     string        `json:"rider_email"`
	Pickup         Coord         `json:"pickup"`
	Dropoff        Coord         `json:"dropoff"`
	PickupAddress  string        `json:"pickup_address"`
	DropoffAddress string        `json:"dropoff_address"`
	FareEstimate   float64       `json:"fare_estimate"`
	Status         RequestStatus `json:"status"`

	// Current offer target. The pair identifies exactly one outstanding offer;
	// a timeout watcher is valid only while both still match.
	SuggestedVehicleID string  `json:"suggested_vehicle_id,omitempty"`
	SuggestedOwnerID   string  `json:"suggested_owner_id,omitempty"`
	Distance           float64 `json:"distance,omitempty"` // meters, vehicle to pickup

	DeclinedBy []string `json:"declined_by,omitempty"`

	AssignedVehicleID string `json:"assigned_vehicle_id,omitempty"`
	AssignedOwnerID   string `json:"assigned_owner_id,omitempty"`

	// FareHoldID references a payment-provider authorization taken at accept
	// time. Empty when no provider is configured.
	FareHoldID string `json:"fare_hold_id,omitempty"`

	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
}

// HistoryRecord is the immutable summary written once per concluded ride.
// RequestRef is unique; duplicate writes for the same ref are dropped.
type HistoryRecord struct {
	RequestRef   string    `json:"request_ref"`
	RiderID      string    `json:"rider_id"`
	VehicleID    string    `json:"vehicle_id"`
	VehicleName  string    `json:"vehicle_name"`
	VehicleModel string    `json:"vehicle_model"`
	FromAddress  string    `json:"from_address"`
	ToAddress    string    `json:"to_address"`
	Start        Coord     `json:"start"`
	End          Coord     `json:"end"`
	Fare         float64   `json:"fare"`
	Status       string    `json:"status"` // completed, cancelled
	Reason       string    `json:"reason"`
	PersonalRide bool      `json:"personal_ride,omitempty"` // locate-car, no fare
	Date         time.Time `json:"date"`
}

// Transaction is a ledger entry. There is no balance; the ledger is
// append-only per user.
type Transaction struct {
	UserID      string    `json:"user_id"`
	Amount      float64   `json:"amount"`
	Kind        string    `json:"kind"` // ride_payment, ride_earning, manual
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Telemetry is the per-step car-update payload streamed during simulations.
type Telemetry struct {
	VehicleID      string        `json:"car_id"`
	Lat            float64       `json:"lat"`
	Lng            float64       `json:"lng"`
	Battery        float64       `json:"battery"`
	Status         VehicleStatus `json:"status"`
	RideID         string        `json:"ride_id,omitempty"`
	Progress       float64       `json:"progress,omitempty"`
	Phase          string        `json:"phase,omitempty"`
	DriverETA      string        `json:"driver_eta,omitempty"`
	RemainingSteps int           `json:"remaining_steps,omitempty"`
	TotalSteps     int           `json:"total_steps,omitempty"`
}
