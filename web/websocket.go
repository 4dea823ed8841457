package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/martinemde/codepair/conversation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the websocket frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// clientMessage is what a browser may send: {"type":"reply","content":"..."}
// or {"type":"cancel"}.
type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

const subscriberBuffer = 256

// runHub keeps the event history of one run and fans live events out to
// websocket subscribers. Late subscribers receive the history first.
type runHub struct {
	run    *conversation.Run
	logger *slog.Logger

	mu      sync.Mutex
	history []conversation.Event
	clients map[chan conversation.Event]bool
	closed  bool
}

func newRunHub(run *conversation.Run, logger *slog.Logger) *runHub {
	return &runHub{
		run:     run,
		logger:  logger.With("run", run.ID()),
		clients: make(map[chan conversation.Event]bool),
	}
}

// pump drains the run's event channel until it closes.
func (h *runHub) pump() {
	for ev := range h.run.Events() {
		h.mu.Lock()
		h.history = append(h.history, ev)
		for ch := range h.clients {
			select {
			case ch <- ev:
			default:
				h.logger.Warn("websocket subscriber too slow, dropping it")
				delete(h.clients, ch)
				close(ch)
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.closed = true
	for ch := range h.clients {
		close(ch)
	}
	h.clients = map[chan conversation.Event]bool{}
	h.mu.Unlock()
}

// subscribe returns the history so far and a channel of later events. The
// channel is closed after the last event.
func (h *runHub) subscribe() ([]conversation.Event, chan conversation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := append([]conversation.Event(nil), h.history...)
	ch := make(chan conversation.Event, subscriberBuffer)
	if h.closed {
		close(ch)
	} else {
		h.clients[ch] = true
	}
	return snapshot, ch
}

func (h *runHub) unsubscribe(ch chan conversation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ch] {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *runHub) events() []conversation.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]conversation.Event(nil), h.history...)
}

func (h *runHub) finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.lookup(r.PathValue("id"))
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	history, live := hub.subscribe()
	defer hub.unsubscribe(live)

	// Replies from the browser are answered on the same connection, so the
	// reader hands acknowledgements to the single writer below.
	acks := make(chan Event, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ack := s.handleClientMessage(hub, msg)
			select {
			case acks <- ack:
			default:
			}
		}
	}()

	write := func(ev Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for _, ev := range history {
		if !write(Event{Type: string(ev.Type), Payload: ev}) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if !write(Event{Type: string(ev.Type), Payload: ev}) {
				return
			}
		case ack := <-acks:
			if !write(ack) {
				return
			}
		case <-readerDone:
			return
		}
	}
}

func (s *Server) handleClientMessage(hub *runHub, msg clientMessage) Event {
	switch msg.Type {
	case "reply":
		if err := hub.run.Reply(msg.Content); err != nil {
			return Event{Type: "reply_rejected", Payload: err.Error()}
		}
		return Event{Type: "reply_accepted", Payload: msg.Content}
	case "cancel":
		hub.run.Cancel()
		return Event{Type: "cancel_requested", Payload: hub.run.ID()}
	default:
		return Event{Type: "unknown_message", Payload: msg.Type}
	}
}
