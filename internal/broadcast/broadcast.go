package broadcast

// Event names carried over the wire to connected clients.
const (
	EventCarUpdate        = "car-update"
	EventRideStatusUpdate = "ride-status-update"
	EventNewRideRequest   = "new-ride-request"
	EventRideAccepted     = "ride-accepted"
	EventRideCompleted    = "ride-completed"
	EventRideCancelled    = "ride-cancelled"
	EventRideDeclined     = "ride-declined"
	EventDriverArrived    = "driver-arrived"
	EventPaymentProcessed = "payment-processed"
	EventPaymentFailed    = "payment-failed"
	EventRegistrationOK   = "registration-success"
)

// Notifier is the fire-and-forget fan-out toward connected clients. Sends
// never block simulation progress and delivery is best effort.
type Notifier interface {
	// Notify broadcasts to every listener.
	Notify(event string, payload any)
	// NotifyDriver targets one registered driver, falling back to a broadcast
	// when that driver has no live connection.
	NotifyDriver(userID, event string, payload any)
}

// Nop drops every notification. Useful for tests and headless runs.
type Nop struct{}

func (Nop) Notify(string, any)               {}
func (Nop) NotifyDriver(string, string, any) {}

// Multi fans a notification out to several notifiers, e.g. websocket clients
// plus the Kafka telemetry pipeline.
type Multi []Notifier

func (m Multi) Notify(event string, payload any) {
	for _, n := range m {
		n.Notify(event, payload)
	}
}

func (m Multi) NotifyDriver(userID, event string, payload any) {
	for _, n := range m {
		n.NotifyDriver(userID, event, payload)
	}
}
