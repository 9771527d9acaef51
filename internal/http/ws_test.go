package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/broadcast"
)

func dialWS(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade status = %d, want 101", resp.StatusCode)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) broadcast.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env broadcast.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func waitConnected(t *testing.T, reg *broadcast.WSRegistry, userID string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Connected(userID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Connected(%q) never became %v", userID, want)
}

// The websocket upgrade has to hijack the connection through the metrics
// middleware's response writer.
func TestWebsocketRegisterThroughMiddleware(t *testing.T) {
	srv := testServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWS(t, ts, "driver-1")
	defer conn.Close()

	env := readEvent(t, conn)
	if env.Event != broadcast.EventRegistrationOK {
		t.Fatalf("first frame = %q, want %q", env.Event, broadcast.EventRegistrationOK)
	}
	if !srv.WSReg.Connected("driver-1") {
		t.Error("driver not registered after upgrade")
	}

	conn.Close()
	waitConnected(t, srv.WSReg, "driver-1", false)
}

// A driver that reconnects must keep the fresh session when the old
// connection finally dies.
func TestWebsocketReconnectSurvivesStaleDisconnect(t *testing.T) {
	srv := testServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	stale := dialWS(t, ts, "driver-1")
	readEvent(t, stale)

	fresh := dialWS(t, ts, "driver-1")
	defer fresh.Close()
	readEvent(t, fresh)

	stale.Close()

	// the stale read loop unregisters asynchronously; it must not take
	// the fresh session with it
	time.Sleep(100 * time.Millisecond)
	if !srv.WSReg.Connected("driver-1") {
		t.Fatal("fresh session evicted by stale disconnect")
	}

	srv.WSReg.NotifyDriver("driver-1", broadcast.EventNewRideRequest, map[string]string{"ride_id": "r1"})
	env := readEvent(t, fresh)
	if env.Event != broadcast.EventNewRideRequest {
		t.Fatalf("fresh session got %q, want %q", env.Event, broadcast.EventNewRideRequest)
	}
}
