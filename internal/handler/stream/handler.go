package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yearsky/nara-companion/internal/model/chat"
	"github.com/yearsky/nara-companion/pkg/utils"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 8 * time.Second

// Event is one transcript delta pushed to connected clients.
type Event struct {
	Kind    string        `json:"kind"` // append, update, remove
	Message *chat.Message `json:"message,omitempty"`
	ID      string        `json:"id,omitempty"`
}

// Hub fans transcript changes out to SSE subscribers. It implements the
// transcript observer contract, so wiring it up is a single AddObserver
// call; the stream is informational and the REST responses stay canonical.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// MessageAppended broadcasts a new transcript message.
func (h *Hub) MessageAppended(msg chat.Message) {
	h.broadcast(Event{Kind: "append", Message: &msg})
}

// MessageUpdated broadcasts a content or audio change.
func (h *Hub) MessageUpdated(msg chat.Message) {
	h.broadcast(Event{Kind: "update", Message: &msg})
}

// MessageRemoved broadcasts a retraction.
func (h *Hub) MessageRemoved(id string) {
	h.broadcast(Event{Kind: "remove", ID: id})
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/session/stream", h.handleStream)
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	events, cancel := h.subscribe()
	defer cancel()

	ctx := r.Context()
	log.Println("[stream] client connected")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	utils.SendSSEChunk(w, flusher, map[string]any{
		"event":   "status",
		"message": "stream established",
	})

	for {
		select {
		case <-ctx.Done():
			log.Println("[stream] client disconnected")
			return
		case t := <-ticker.C:
			utils.SendSSEChunk(w, flusher, map[string]any{
				"event": "heartbeat",
				"time":  t.UTC().Format(time.RFC3339),
			})
		case ev, open := <-events:
			if !open {
				return
			}
			utils.SendSSEEvent(w, flusher, "transcript", ev)
		}
	}
}

// subscribe registers a buffered subscriber channel. A slow client drops its
// oldest event rather than blocking the transcript lock.
func (h *Hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
