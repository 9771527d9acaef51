package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the JSON frame written to websocket clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WSSession wraps one connection; the mutex serializes concurrent writers
// (simulators, matcher, charging tasks).
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// WSRegistry tracks connected clients keyed by user ID and implements
// Notifier over them. A user ID present in the registry is a registered
// driver eligible for targeted offers.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Register adds the connection and acks the driver registration. A
// reconnect replaces the stored session; the returned handle identifies
// this connection for Unregister.
func (r *WSRegistry) Register(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	r.logger.Info("driver registered", "user_id", userID)
	_ = s.send(Envelope{Event: EventRegistrationOK, Data: map[string]any{
		"message":      "Successfully registered as driver",
		"user_id":      userID,
		"connected_at": time.Now().UTC(),
	}})
	return s
}

// Unregister drops the session on websocket disconnect. A stale session's
// death must not evict a newer connection for the same user, so removal
// only happens when the stored session is the one being unregistered.
func (r *WSRegistry) Unregister(userID string, sess *WSSession) {
	r.mu.Lock()
	cur, ok := r.sessions[userID]
	if ok && cur == sess {
		delete(r.sessions, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if sess != nil {
		_ = sess.conn.Close()
	}
	if ok {
		r.logger.Info("driver disconnected", "user_id", userID)
	}
}

// Connected reports whether a driver has a live session.
func (r *WSRegistry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

func (r *WSRegistry) Notify(event string, payload any) {
	env := Envelope{Event: event, Data: payload}
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.send(env); err != nil {
			r.logger.Warn("ws send failed", "event", event, "error", err)
		}
	}
}

func (r *WSRegistry) NotifyDriver(userID, event string, payload any) {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		// driver offline, let everyone see the offer
		r.Notify(event, payload)
		return
	}
	if err := s.send(Envelope{Event: event, Data: payload}); err != nil {
		r.logger.Warn("ws targeted send failed", "user_id", userID, "event", event, "error", err)
	}
}
