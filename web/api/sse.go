package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Dashboard event types
const (
	EventRunComplete   = "run_complete"
	EventBatchComplete = "batch_complete"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSEHub fans dashboard events out to connected SSE clients
type SSEHub struct {
	clients    map[chan SSEEvent]bool
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	mu         sync.RWMutex
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[chan SSEEvent]bool),
		broadcast:  make(chan SSEEvent, 64),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
	}
}

// Run dispatches events until ctx is cancelled
func (h *SSEHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// slow client
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for all clients. Events are dropped when the
// queue is full so a run never blocks on dashboards.
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// Clients returns the number of connected clients
func (h *SSEHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		client := make(chan SSEEvent, 16)
		select {
		case s.sseHub.register <- client:
		case <-r.Context().Done():
			return
		}

		for {
			select {
			case <-r.Context().Done():
				go func() { s.sseHub.unregister <- client }()
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

// eventStream writes progress events of one request as SSE frames. Writes
// stop once the client disconnects; the run itself keeps going.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	gone    <-chan struct{}
	mu      sync.Mutex
}

func newEventStream(w http.ResponseWriter, r *http.Request) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher, gone: r.Context().Done()}, true
}

func (e *eventStream) disconnected() bool {
	select {
	case <-e.gone:
		return true
	default:
		return false
	}
}

func (e *eventStream) write(frame string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disconnected() {
		return
	}
	fmt.Fprint(e.w, frame)
	e.flusher.Flush()
}

// send writes one event as a data frame
func (e *eventStream) send(ev domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.write("data: " + string(data) + "\n\n")
}

// done writes the stream terminator
func (e *eventStream) done() {
	e.write("data: [DONE]\n\n")
}
