package monitor

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mintforest/internal/logbus"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// wsHandler streams the bus over a websocket: buffered history first, then
// live messages until either side closes. The bus carries two kinds of
// message, "log" and "account_state"; a client that only wants some of them
// passes ?types=log or ?types=account_state (comma-separated). Idle
// connections are kept alive with pings, and a client that stops answering
// them is dropped after the pong deadline.
type wsHandler struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func newWSHandler(bus *logbus.Bus, allowOrigins []string) *wsHandler {
	h := &wsHandler{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

// typeFilter reports whether a message kind passes the client's ?types=
// selection. An empty selection passes everything.
type typeFilter map[string]bool

func parseTypeFilter(raw string) typeFilter {
	if raw == "" {
		return nil
	}
	f := make(typeFilter)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = true
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

func (f typeFilter) pass(msg logbus.Message) bool {
	return f == nil || f[msg.Type]
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := parseTypeFilter(r.URL.Query().Get("types"))

	// Subscribe before replaying the snapshot so nothing published in
	// between is lost.
	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

	for _, msg := range h.bus.Snapshot() {
		if !filter.pass(msg) {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !filter.pass(msg) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (h *wsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowOrigins) == 0 {
		return false
	}
	for _, o := range h.allowOrigins {
		if o == "*" {
			return true
		}
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
