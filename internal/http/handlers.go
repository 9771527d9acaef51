package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/sim"
	"github.com/example/ride-dispatch/internal/store"
)

type Server struct {
	Matcher  *dispatch.Matcher
	Sim      *sim.Simulator
	Vehicles *store.VehicleStore
	Requests *store.RequestStore
	History  store.HistoryStore
	Ledger   payments.Ledger
	Fleet    *geo.FleetMirror // nil when no Redis mirror is configured
	Notifier broadcast.Notifier
	WSReg    *broadcast.WSRegistry

	mux    *mux.Router
	logger *slog.Logger
}

type Deps struct {
	Matcher  *dispatch.Matcher
	Sim      *sim.Simulator
	Vehicles *store.VehicleStore
	Requests *store.RequestStore
	History  store.HistoryStore
	Ledger   payments.Ledger
	Fleet    *geo.FleetMirror
	Notifier broadcast.Notifier
	WSReg    *broadcast.WSRegistry
	Logger   *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		Matcher:  d.Matcher,
		Sim:      d.Sim,
		Vehicles: d.Vehicles,
		Requests: d.Requests,
		History:  d.History,
		Ledger:   d.Ledger,
		Fleet:    d.Fleet,
		Notifier: d.Notifier,
		WSReg:    d.WSReg,
		mux:      mux.NewRouter(),
		logger:   d.Logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/accept", s.handleRideAccept).Methods("POST")
	api.HandleFunc("/rides/decline", s.handleRideDecline).Methods("POST")
	api.HandleFunc("/rides/cancel", s.handleRideCancel).Methods("POST")
	api.HandleFunc("/rides/complete", s.handleRideComplete).Methods("POST")
	api.HandleFunc("/rides/pending", s.handlePendingRides).Methods("GET")

	api.HandleFunc("/vehicles/{id}/ride", s.handlePersonalRide).Methods("POST")
	api.HandleFunc("/vehicles/{id}/ride", s.handleCancelPersonalRide).Methods("DELETE")
	api.HandleFunc("/vehicles/{id}/charge", s.handleCharge).Methods("POST")
	api.HandleFunc("/vehicles/{id}/pause-charge", s.handlePauseCharge).Methods("POST")
	api.HandleFunc("/vehicles/{id}/resume-charge", s.handleResumeCharge).Methods("POST")

	api.HandleFunc("/history/{user_id}", s.handleHistory).Methods("GET")
	api.HandleFunc("/finances/transactions/{user_id}", s.handleListTransactions).Methods("GET")
	api.HandleFunc("/finances/transactions", s.handleAddTransaction).Methods("POST")
	api.HandleFunc("/fleet/nearby", s.handleFleetNearby).Methods("GET")

	s.mux.HandleFunc("/internal/vehicle/locations", s.handleVehicleLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch err {
	case nil:
		return http.StatusOK
	case store.ErrRequestNotFound, store.ErrVehicleNotFound:
		return http.StatusNotFound
	case dispatch.ErrValidation, payments.ErrZeroAmount:
		return http.StatusBadRequest
	case dispatch.ErrStaleOffer, dispatch.ErrConflict, store.ErrVehicleBusy,
		sim.ErrAlreadyCharging, sim.ErrRideActive, sim.ErrNotCharging, sim.ErrNoRide:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RiderID      string       `json:"rider_id"`
		RiderEmail   string       `json:"rider_email"`
		Pickup       models.Coord `json:"pickup"`
		Dropoff      models.Coord `json:"dropoff"`
		FareEstimate float64      `json:"fare_estimate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.Matcher.Submit(r.Context(), dispatch.SubmitInput{
		RiderID:      in.RiderID,
		RiderEmail:   in.RiderEmail,
		Pickup:       in.Pickup,
		Dropoff:      in.Dropoff,
		FareEstimate: in.FareEstimate,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.Status == models.RequestDeclined {
		writeJSON(w, http.StatusServiceUnavailable, req)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRideAccept(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RideID  string `json:"ride_id"`
		CarID   string `json:"car_id"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.Matcher.Accept(r.Context(), in.RideID, in.CarID, in.OwnerID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRideDecline(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RideID string `json:"ride_id"`
		CarID  string `json:"car_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Matcher.Decline(in.RideID, in.CarID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	req, err := s.Requests.Get(in.RideID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRideCancel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RideID      string `json:"ride_id"`
		CancelledBy string `json:"cancelled_by"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Matcher.Cancel(in.RideID, in.CancelledBy, in.Reason); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.RequestCancelled)})
}

func (s *Server) handleRideComplete(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RideID string `json:"ride_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.Matcher.Complete(in.RideID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePendingRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Requests.ListPending())
}

func (s *Server) handlePersonalRide(w http.ResponseWriter, r *http.Request) {
	var dest models.Coord
	if err := json.NewDecoder(r.Body).Decode(&dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.Sim.StartPersonalRide(mux.Vars(r)["id"], dest)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancelPersonalRide(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.CancelPersonal(mux.Vars(r)["id"], "Cancelled by owner"); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	v, err := s.Sim.StartCharging(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePauseCharge(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.PauseCharging(mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeCharge(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.ResumeCharging(mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "charging"})
}

// handleHistory lists rides the user took plus rides served by vehicles the
// user owns, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	var owned []string
	for _, v := range s.Vehicles.List() {
		if v.OwnerID == userID {
			owned = append(owned, v.ID)
		}
	}
	recs, err := s.History.ListByUser(userID, owned)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tx, err := s.Ledger.GetTransactions(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      string  `json:"user_id"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Ledger.RecordTransaction(in.UserID, in.Amount, "manual", in.Description); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleFleetNearby(w http.ResponseWriter, r *http.Request) {
	if s.Fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "fleet map unavailable")
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius"), 64)
	if radius <= 0 {
		radius = 5000
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	vehicles, err := s.Fleet.Nearby(r.Context(), lat, lng, radius, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// handleVehicleLocation ingests fleet telemetry: upserts the vehicle and
// fans the position out, which also feeds the Kafka mirror pipeline.
func (s *Server) handleVehicleLocation(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if v.Status == "" {
		v.Status = models.VehicleIdle
	}
	s.Vehicles.Add(v)
	if s.Notifier != nil {
		s.Notifier.Notify(broadcast.EventCarUpdate, models.Telemetry{
			VehicleID: v.ID, Lat: v.Location.Lat, Lng: v.Location.Lng,
			Battery: v.Battery, Status: v.Status,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written its error response
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	sess := s.WSReg.Register(userID, conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Unregister(userID, sess)
				return
			}
		}
	}()
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
