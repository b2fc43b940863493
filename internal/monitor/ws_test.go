package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mintforest/internal/config"
	"mintforest/internal/logbus"
)

func dialWS(t *testing.T, bus *logbus.Bus, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(New(Options{Bus: bus, Cfg: config.MonitorConfig{}}).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func jsonText(t *testing.T, msg logbus.Message) string {
	t.Helper()
	b, err := json.Marshal(msg.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func readMessage(t *testing.T, conn *websocket.Conn) logbus.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg logbus.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWSSnapshotThenLive(t *testing.T) {
	bus := logbus.New(16)
	t.Cleanup(bus.Close)
	bus.Log("info", "buffered one", nil)
	bus.Log("info", "buffered two", nil)

	conn := dialWS(t, bus, "")

	for _, want := range []string{"buffered one", "buffered two"} {
		msg := readMessage(t, conn)
		if msg.Type != "log" || !strings.Contains(jsonText(t, msg), want) {
			t.Fatalf("snapshot message = %+v, want %q", msg, want)
		}
	}

	bus.Publish("account_state", map[string]any{"accountId": "a-1", "status": "RUNNING"})
	msg := readMessage(t, conn)
	if msg.Type != "account_state" {
		t.Fatalf("live message type = %q, want account_state", msg.Type)
	}
}

func TestWSTypeFilter(t *testing.T) {
	bus := logbus.New(16)
	t.Cleanup(bus.Close)
	bus.Log("info", "noise", nil)
	bus.Publish("account_state", map[string]any{"accountId": "a-1", "status": "DONE"})

	conn := dialWS(t, bus, "?types=account_state")

	msg := readMessage(t, conn)
	if msg.Type != "account_state" {
		t.Fatalf("snapshot message type = %q, want account_state only", msg.Type)
	}

	bus.Log("info", "more noise", nil)
	bus.Publish("account_state", map[string]any{"accountId": "a-2", "status": "RUNNING"})
	msg = readMessage(t, conn)
	if msg.Type != "account_state" || !strings.Contains(jsonText(t, msg), "a-2") {
		t.Fatalf("filtered stream delivered %+v", msg)
	}
}

func TestParseTypeFilter(t *testing.T) {
	if f := parseTypeFilter(""); f != nil {
		t.Fatalf("empty filter = %v, want pass-all", f)
	}
	f := parseTypeFilter("log, account_state,,")
	if !f.pass(logbus.Message{Type: "log"}) || !f.pass(logbus.Message{Type: "account_state"}) {
		t.Fatal("listed types must pass")
	}
	if f.pass(logbus.Message{Type: "other"}) {
		t.Fatal("unlisted type must not pass")
	}
}
