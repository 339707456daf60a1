package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	pima "github.com/caarlos0/pima-bridge"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventBuffer       = 16
)

type event struct {
	Type   string           `json:"type"`
	State  *pima.AlarmState `json:"state,omitempty"`
	Online *bool            `json:"online,omitempty"`
}

// hub streams state changes and availability to websocket clients.
type hub struct {
	alarm    Alarm
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

func newHub(alarm Alarm) *hub {
	return &hub{
		alarm:   alarm,
		clients: map[chan []byte]struct{}{},
	}
}

func (h *hub) PublishStatus(state pima.AlarmState) {
	h.broadcast(event{Type: "status", State: &state})
}

func (h *hub) PublishAvailability(online bool) {
	h.broadcast(event{Type: "availability", Online: &online})
}

func (h *hub) broadcast(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("could not marshal event", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- data:
		default:
			log.Warn("dropping slow websocket client")
			delete(h.clients, client)
			close(client)
		}
	}
}

func (h *hub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, eventBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client)
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("could not upgrade websocket", "err", err)
		return
	}
	defer conn.Close()

	ch, ok := h.subscribe()
	if !ok {
		return
	}
	defer h.unsubscribe(ch)

	// the current snapshot goes first so clients do not wait for a change.
	if state, ok := h.alarm.Last(); ok {
		data, err := json.Marshal(event{Type: "status", State: &state})
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	// reads only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case data, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second),
				)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("websocket client gone", "err", err)
				return
			}
		}
	}
}
