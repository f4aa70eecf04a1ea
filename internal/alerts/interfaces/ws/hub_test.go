package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"homewatch-cloud/internal/alerts/application"
	alerts "homewatch-cloud/internal/alerts/domain"
	wsHub "homewatch-cloud/internal/alerts/interfaces/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub serves a fresh hub over httptest with its Run loop attached to a
// cancellable context, and returns the ws:// endpoint plus the cancel.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.NewHub(zap.NewNop())
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial opens a WebSocket client connection to wsURL.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage returns the next text frame from conn, failing the test if none
// arrives within two seconds.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

func newEvent(eventType, alertID string) application.Event {
	return application.Event{
		Type: eventType,
		Payload: alerts.Alert{
			ID:       alertID,
			TenantID: "tenant-1",
			HouseID:  "house-1",
			DeviceID: "dev-1",
			Type:     alerts.TypeSmokeAlarm,
			Severity: alerts.SeverityCritical,
			State:    alerts.StateNew,
		},
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesHello(t *testing.T) {
	wsURL, _, _ := startHub(t)

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "hello" {
		t.Errorf("type: got %v, want hello", m["type"])
	}
	if m["server_ts"] == nil || m["server_ts"] == "" {
		t.Error("server_ts: missing")
	}
}

func TestHub_PublishReachesConnectedClient(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume hello
	time.Sleep(10 * time.Millisecond)

	hub.Publish(context.Background(), newEvent(application.EventAlertNew, "alert-42"))

	msg := readMessage(t, conn)
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "alert.new" {
		t.Errorf("type: got %v, want alert.new", m["type"])
	}
	payload, ok := m["payload"].(map[string]interface{})
	if !ok {
		t.Fatal("payload: missing or wrong type")
	}
	if payload["id"] != "alert-42" {
		t.Errorf("payload id: got %v, want alert-42", payload["id"])
	}
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conns := make([]*websocket.Conn, 3)
	for i := 0; i < 3; i++ {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i]) // consume hello
	}
	time.Sleep(10 * time.Millisecond)

	hub.Publish(context.Background(), newEvent(application.EventAlertAcked, "alert-7"))

	for i, conn := range conns {
		msg := readMessage(t, conn)
		var m map[string]interface{}
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Errorf("client %d: unmarshal: %v", i, err)
			continue
		}
		if m["type"] != application.EventAlertAcked {
			t.Errorf("client %d: type: got %v, want %s", i, m["type"], application.EventAlertAcked)
		}
	}
}

func TestHub_CountClients_SingleClient(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume hello

	// Give the hub a moment to register the client.
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel() // signal shutdown

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_ConcurrentPublishSurvivesDisconnects(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish(context.Background(), newEvent(application.EventAlertNew, "alert-stress"))
				}
			}
		}()
	}

	// Churn clients that never read, so publishers race disconnects on both
	// the full-buffer drop path and the normal close path.
	for i := 0; i < 40; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
		conn.Close()
	}

	close(stop)
	wg.Wait()

	// The hub must still accept publishes after the churn.
	hub.Publish(context.Background(), newEvent(application.EventAlertNew, "alert-after"))
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
