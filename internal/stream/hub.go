package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ticker-panel/internal/metrics"
	"ticker-panel/internal/watchlist"
)

const (
	pingInterval = 45 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// Controller is the subset of the watchlist manager reachable from clients.
type Controller interface {
	Add(ctx context.Context, symbol string) (watchlist.Asset, error)
	Remove(symbol string) bool
	Reorder(symbol string, target int) error
	Snapshot() watchlist.State
}

type stateMsg struct {
	Type string `json:"type"` // "state"
	watchlist.State
}

type statusMsg struct {
	Type   string `json:"type"` // "status"
	Level  string `json:"level"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

type controlMsg struct {
	Type   string `json:"type"`   // "control"
	Action string `json:"action"` // add/remove/reorder
	Symbol string `json:"symbol"`
	Index  int    `json:"index"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan any
	done chan struct{}
}

// Hub fans committed watchlist states out to browser connections.
type Hub struct {
	ctl Controller

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(ctl Controller) *Hub {
	return &Hub{ctl: ctl, clients: make(map[*client]struct{})}
}

// Publish is registered as a watchlist subscriber. Slow clients drop frames.
func (h *Hub) Publish(st watchlist.State) {
	h.broadcast(stateMsg{Type: "state", State: st})
}

func (h *Hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- v:
		default:
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Str("component", "stream").Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan any, 64),
		done: make(chan struct{}),
	}
	h.register(cl)
	defer h.unregister(cl)

	go cl.writeLoop()

	cl.send(statusMsg{Type: "status", Level: "info", Text: "Connected"})
	cl.send(stateMsg{Type: "state", State: h.ctl.Snapshot()})

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ctrl controlMsg
		if err := json.Unmarshal(data, &ctrl); err != nil || ctrl.Type != "control" {
			cl.send(statusMsg{Type: "status", Level: "error", Text: "invalid control message"})
			continue
		}
		cl.send(h.handleControl(r.Context(), ctrl))
	}
}

func (h *Hub) handleControl(ctx context.Context, ctrl controlMsg) statusMsg {
	action := strings.ToLower(ctrl.Action)
	st := statusMsg{Type: "status", Level: "success", Action: action, Symbol: strings.ToUpper(strings.TrimSpace(ctrl.Symbol))}
	switch action {
	case "add":
		a, err := h.ctl.Add(ctx, ctrl.Symbol)
		if err != nil {
			st.Level = "error"
			st.Text = addErrorText(err)
			return st
		}
		st.Symbol = a.Symbol
		st.Text = fmt.Sprintf("%s added", a.Symbol)
	case "remove":
		h.ctl.Remove(ctrl.Symbol)
		st.Text = fmt.Sprintf("%s removed", st.Symbol)
	case "reorder":
		if err := h.ctl.Reorder(ctrl.Symbol, ctrl.Index); err != nil {
			st.Level = "error"
			st.Text = err.Error()
			return st
		}
		st.Text = fmt.Sprintf("%s moved", st.Symbol)
	default:
		st.Level = "error"
		st.Text = fmt.Sprintf("unknown action %q", ctrl.Action)
	}
	return st
}

// addErrorText keeps duplicate and not-found messages distinct for the add
// dialog.
func addErrorText(err error) string {
	switch {
	case errors.Is(err, watchlist.ErrDuplicate), errors.Is(err, watchlist.ErrNotFound):
		return err.Error()
	case errors.Is(err, watchlist.ErrAddInFlight):
		return "Please wait for the current add to finish"
	case errors.Is(err, watchlist.ErrInvalidSymbol):
		return "Enter a ticker symbol"
	default:
		return "Price lookup failed, try again"
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
	log.Debug().Str("component", "stream").Str("client", cl.id).Int("clients", n).Msg("client connected")
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	n := len(h.clients)
	h.mu.Unlock()
	close(cl.done)
	metrics.StreamClients.Set(float64(n))
	log.Debug().Str("component", "stream").Str("client", cl.id).Int("clients", n).Msg("client disconnected")
}

func (cl *client) send(v any) {
	select {
	case cl.out <- v:
	default:
	}
}

func (cl *client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case v := <-cl.out:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteJSON(v); err != nil {
				log.Debug().Str("component", "stream").Str("client", cl.id).Err(err).Msg("write failed")
				_ = cl.conn.Close()
				return
			}
		case <-ping.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = cl.conn.WriteMessage(websocket.PingMessage, nil)
		case <-cl.done:
			return
		}
	}
}
