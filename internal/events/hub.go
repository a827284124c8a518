// Package events streams session notifications to websocket clients.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbright/murmur/internal/session"
)

const (
	sendBuffer    = 256
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Observer receives client bookkeeping. *metrics.Metrics satisfies it.
type Observer interface {
	ClientConnected()
	ClientDisconnected()
	MessageDropped()
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Type       session.Kind `json:"type"`
	Time       time.Time    `json:"time"`
	PID        int          `json:"pid,omitempty"`
	SessionID  string       `json:"session_id,omitempty"`
	ExitCode   *int         `json:"exit_code,omitempty"`
	Error      string       `json:"error,omitempty"`
	Volume     *float64     `json:"volume,omitempty"`
	Bytes      int          `json:"bytes,omitempty"`
	SampleRate int          `json:"sample_rate,omitempty"`
	Channels   int          `json:"channels,omitempty"`
}

// Hub fans session events out to connected clients.
type Hub struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan outbound
	audio bool
}

type outbound struct {
	binary bool
	data   []byte
}

// NewHub creates an empty hub. observer may be nil.
func NewHub(logger *slog.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:   logger,
		observer: observer,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent encodes event and broadcasts it. It never blocks on slow clients.
func (h *Hub) HandleEvent(event session.Event) {
	msg := h.encode(event)
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode event", "type", string(msg.Type), "error", err.Error())
		return
	}
	h.broadcast(outbound{data: payload})
}

// StreamAudio forwards raw PCM chunks as binary messages to clients that
// connected with ?audio=1. It returns when chunks is closed.
func (h *Hub) StreamAudio(chunks <-chan []byte) {
	for chunk := range chunks {
		h.broadcast(outbound{binary: true, data: chunk})
	}
}

func (h *Hub) encode(event session.Event) Message {
	msg := Message{Type: event.Kind(), Time: h.now().UTC()}
	switch e := event.(type) {
	case session.Started:
		msg.PID = e.PID
		msg.SessionID = e.SessionID
	case session.Stopped:
		code := e.ExitCode
		msg.ExitCode = &code
	case session.Error:
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	case session.VolumeUpdate:
		v := e.Volume
		msg.Volume = &v
	case session.AudioChunk:
		msg.Bytes = len(e.Payload)
	case session.AudioConfig:
		msg.SampleRate = e.SampleRate
		msg.Channels = e.Channels
	}
	return msg
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if msg.binary && !c.audio {
			continue
		}
		select {
		case c.send <- msg:
		default:
			if h.observer != nil {
				h.observer.MessageDropped()
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan outbound, sendBuffer),
		audio: r.URL.Query().Get("audio") == "1",
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ClientConnected()
	}
	h.logger.Debug("event client connected", "remote", r.RemoteAddr, "audio", c.audio)

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// readPump discards inbound messages and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("event client read error", "error", err.Error())
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			messageType := websocket.TextMessage
			if msg.binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(messageType, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler serves /events from hub and /metrics from gatherer.
func Handler(hub *Hub, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
