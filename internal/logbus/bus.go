package logbus

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// Bus fans log and state messages out to subscribers (the monitor websocket)
// and optionally mirrors log lines to a console writer, keeping a bounded
// replay buffer for late subscribers.
type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]struct{}
	closed bool

	console  io.Writer
	minLevel int
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:      capacity,
		buf:      make([]Message, 0, capacity),
		subs:     make(map[chan Message]struct{}),
		minLevel: levelRank["info"],
	}
}

// SetConsole mirrors log messages at or above level to w.
func (b *Bus) SetConsole(w io.Writer, level string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.console = w
	if rank, ok := levelRank[strings.ToLower(level)]; ok {
		b.minLevel = rank
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	console := b.console
	minLevel := b.minLevel
	b.mu.Unlock()

	if console != nil {
		if ld, ok := data.(LogData); ok && typ == "log" {
			if rank, known := levelRank[ld.Level]; !known || rank >= minLevel {
				fmt.Fprintln(console, formatConsole(msg.Time, ld))
			}
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

func formatConsole(unixMs int64, ld LogData) string {
	var sb strings.Builder
	sb.WriteString(time.UnixMilli(unixMs).Format("15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(strings.ToUpper(ld.Level))
	sb.WriteString(" ")
	sb.WriteString(ld.Msg)
	if len(ld.Fields) > 0 {
		keys := make([]string, 0, len(ld.Fields))
		for k := range ld.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, ld.Fields[k])
		}
	}
	return sb.String()
}
