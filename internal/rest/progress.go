package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"taskbridge/internal/bridge"
)

// subscriberBuffer bounds how many events a slow SSE reader may fall behind
// before further events are dropped.
const subscriberBuffer = 64

const (
	// DefaultProgressIdle ends a progress stream that has seen no event for
	// this long.
	DefaultProgressIdle = 30 * time.Second
	// finishedTTL is how long a finished invocation id is remembered, so a
	// late subscriber still gets its done event.
	finishedTTL = 5 * time.Minute
)

// Hub fans progress events out to SSE subscribers keyed by invocation id.
// Events published while nobody listens are lost.
type Hub struct {
	mu       sync.Mutex
	subs     map[string][]chan bridge.ProgressEvent
	finished map[string]time.Time
	idle     time.Duration
}

// NewHub returns a hub whose streams end after idle without events. A zero
// idle means DefaultProgressIdle.
func NewHub(idle time.Duration) *Hub {
	if idle <= 0 {
		idle = DefaultProgressIdle
	}
	return &Hub{
		subs:     map[string][]chan bridge.ProgressEvent{},
		finished: map[string]time.Time{},
		idle:     idle,
	}
}

// Subscribe registers interest in one invocation. The channel is closed when
// the invocation finishes, or right away if it finished recently. cancel must
// be called if the reader gives up early.
func (h *Hub) Subscribe(id string) (events <-chan bridge.ProgressEvent, cancel func()) {
	ch := make(chan bridge.ProgressEvent, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if at, ok := h.finished[id]; ok && time.Since(at) < finishedTTL {
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = append(h.subs[id], ch)
	return ch, func() { h.remove(id, ch) }
}

func (h *Hub) remove(id string, ch chan bridge.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[id]
	for i, c := range subs {
		if c == ch {
			h.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// Sink returns the progress sink for one invocation. A reused id is no
// longer treated as finished.
func (h *Hub) Sink(id string) bridge.ProgressSink {
	h.mu.Lock()
	delete(h.finished, id)
	h.mu.Unlock()
	return bridge.ProgressSinkFunc(func(e bridge.ProgressEvent) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, ch := range h.subs[id] {
			select {
			case ch <- e:
			default:
			}
		}
	})
}

// Finish closes every subscription of the invocation and remembers the id
// for late subscribers.
func (h *Hub) Finish(id string) {
	now := time.Now()
	h.mu.Lock()
	subs := h.subs[id]
	delete(h.subs, id)
	for old, at := range h.finished {
		if now.Sub(at) >= finishedTTL {
			delete(h.finished, old)
		}
	}
	h.finished[id] = now
	h.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// ServeHTTP streams the events of the invocation named in the path as
// "progress" events followed by a single "done" event. The done event is
// also sent when the stream has been idle too long.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "invocationID")
	events, cancel := h.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// The comment line tells the client the subscription is live.
	fmt.Fprintf(w, ": subscribed %s\n\n", id)
	flusher.Flush()

	idle := time.NewTimer(h.idle)
	defer idle.Stop()
	done := func() {
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
		flusher.Flush()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
			done()
			return
		case e, open := <-events:
			if !open {
				done()
				return
			}
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
			idle.Reset(h.idle)
		}
	}
}
