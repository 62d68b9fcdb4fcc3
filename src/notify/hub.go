// Package notify fans ledger notifications out to connected clients over
// server-sent events and keeps a short per-user history for polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fundflow-server/src/models"
)

const DefaultBuffer = 50

type subscriber struct {
	userID int64
	ch     chan models.Notification
}

// Hub implements ledger.Dispatcher.
type Hub struct {
	mu        sync.RWMutex
	buffer    int
	nextID    int64
	nextSubID int
	subs      map[int]subscriber
	recent    map[int64][]models.Notification
	now       func() time.Time
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[int]subscriber),
		recent: make(map[int64][]models.Notification),
		now:    time.Now,
	}
}

// Notify records n for every user and pushes it to their open streams.
// A subscriber that is not keeping up misses the event rather than
// blocking the caller.
func (h *Hub) Notify(ctx context.Context, userIDs []int64, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userID := range userIDs {
		h.nextID++
		note := n
		note.ID = h.nextID
		note.UserID = userID
		if note.CreatedAt.IsZero() {
			note.CreatedAt = h.now()
		}

		events := append(h.recent[userID], note)
		if len(events) > h.buffer {
			events = events[len(events)-h.buffer:]
		}
		h.recent[userID] = events

		for _, sub := range h.subs {
			if sub.userID != userID {
				continue
			}
			select {
			case sub.ch <- note:
			default:
			}
		}
	}
	return nil
}

// Recent returns the user's retained notifications, oldest first.
func (h *Hub) Recent(userID int64) []models.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := make([]models.Notification, len(h.recent[userID]))
	copy(events, h.recent[userID])
	return events
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscribe registers a stream for userID. The returned func unregisters it.
func (h *Hub) Subscribe(userID int64) (<-chan models.Notification, func()) {
	ch := make(chan models.Notification, 16)

	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.subs[id] = subscriber{userID: userID, ch: ch}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Stream serves userID's notifications as server-sent events until the
// client goes away.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, userID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe(userID)
	defer cancel()

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-ch:
			writeSSE(w, n)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, n models.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", n.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", n.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
