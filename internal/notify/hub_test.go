package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/ashureev/hydraflow/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestHub_UnregisterStale(t *testing.T) {
	hub := NewHub(time.Second)
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("user123", "c1", conn1)
	hub.Register("user123", "c2", conn2)
	hub.Unregister("user123", "c1", conn2)

	if got := hub.Connections("user123"); got != 2 {
		t.Errorf("expected stale unregister to be ignored, got %d connections", got)
	}

	hub.Unregister("user123", "c1", conn1)
	hub.Unregister("user123", "c2", conn2)
	if got := hub.Connections("user123"); got != 0 {
		t.Errorf("expected no connections, got %d", got)
	}
}

func TestHub_AlertWithoutListeners(t *testing.T) {
	hub := NewHub(time.Second)
	if err := hub.Alert("nobody", "hi", true); err != ErrNoListeners {
		t.Errorf("expected ErrNoListeners, got %v", err)
	}
}

func newEventServer(t *testing.T, hub *Hub, userID string) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), userID, "tester", false)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, userID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.Connections(userID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_DeliversToastsAndAlerts(t *testing.T) {
	hub := NewHub(time.Second)
	var delivered []int
	hub.OnDeliver(func(kind string, n int) { delivered = append(delivered, n) })

	srv := newEventServer(t, hub, "u1")
	conn := dial(t, srv)
	waitForConnections(t, hub, "u1", 1)

	hub.Notify("u1", domain.Toast(domain.LevelSuccess, "Added 250ml to your intake!"))
	if err := hub.Alert("u1", "Time to hydrate! Take a sip of water 💧", true); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var toast, alert domain.Notification
	if err := wsjson.Read(ctx, conn, &toast); err != nil {
		t.Fatalf("read toast: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &alert); err != nil {
		t.Fatalf("read alert: %v", err)
	}
	if toast.Kind != "toast" || toast.Message != "Added 250ml to your intake!" {
		t.Errorf("unexpected toast %+v", toast)
	}
	if alert.Kind != "reminder" || !alert.Sound {
		t.Errorf("unexpected alert %+v", alert)
	}
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 1 {
		t.Errorf("expected two single deliveries, got %v", delivered)
	}
}

func TestHandler_UnregistersOnClientClose(t *testing.T) {
	hub := NewHub(time.Second)
	srv := newEventServer(t, hub, "u1")
	conn := dial(t, srv)
	waitForConnections(t, hub, "u1", 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForConnections(t, hub, "u1", 0)
}

func TestHub_CloseUser(t *testing.T) {
	hub := NewHub(time.Second)
	srv := newEventServer(t, hub, "u1")
	dial(t, srv)
	dial(t, srv)
	waitForConnections(t, hub, "u1", 2)

	hub.CloseUser("u1")
	if got := hub.Connections("u1"); got != 0 {
		t.Errorf("expected all connections closed, got %d", got)
	}
}

type presenceLog struct {
	mu     sync.Mutex
	events []string
}

func (p *presenceLog) record(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	p.events = append(p.events, userID+":"+state)
}

func (p *presenceLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *presenceLog) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(p.snapshot()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d presence events, got %v", n, p.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PresenceTransitions(t *testing.T) {
	hub := NewHub(time.Second)
	var log presenceLog
	hub.OnPresence(log.record)

	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	hub.Register("u1", "c1", conn1)
	hub.Register("u1", "c2", conn2)
	hub.Unregister("u1", "c1", conn1)
	if got := log.snapshot(); len(got) != 1 || got[0] != "u1:online" {
		t.Fatalf("expected only the first connection to report, got %v", got)
	}

	hub.Unregister("u1", "c2", conn1)
	if got := log.snapshot(); len(got) != 1 {
		t.Fatalf("stale unregister must not report presence, got %v", got)
	}

	hub.Unregister("u1", "c2", conn2)
	if got := log.snapshot(); len(got) != 2 || got[1] != "u1:offline" {
		t.Fatalf("expected offline after the last connection, got %v", got)
	}
}

func TestHub_PresenceOnClientCloseAndCloseUser(t *testing.T) {
	hub := NewHub(time.Second)
	var log presenceLog
	hub.OnPresence(log.record)

	srv := newEventServer(t, hub, "u1")
	conn := dial(t, srv)
	waitForConnections(t, hub, "u1", 1)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForConnections(t, hub, "u1", 0)

	log.waitFor(t, 2)

	dial(t, srv)
	log.waitFor(t, 3)
	hub.CloseUser("u1")

	got := log.snapshot()
	want := []string{"u1:online", "u1:offline", "u1:online", "u1:offline"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
