package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/iBekzod/next-gen-being-sub006/internal/model"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan model.RequestEvent
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan model.RequestEvent{},
	}
}

func (h *Hub) Subscribe(requestID string, buf int) (string, <-chan model.RequestEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[requestID]; !ok {
		h.subs[requestID] = map[string]chan model.RequestEvent{}
	}
	ch := make(chan model.RequestEvent, buf)
	h.subs[requestID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		reqSubs, ok := h.subs[requestID]
		if !ok {
			return
		}
		c, ok := reqSubs[subID]
		if !ok {
			return
		}
		delete(reqSubs, subID)
		close(c)
		if len(reqSubs) == 0 {
			delete(h.subs, requestID)
		}
	}
	return subID, ch, unsubscribe
}

// Publish never blocks; a subscriber with a full buffer misses the event and
// catches up from the repository.
func (h *Hub) Publish(requestID string, evt model.RequestEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[requestID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) Subscribers(requestID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[requestID])
}
