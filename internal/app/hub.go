package app

import (
	"sync"

	"live-poll-service/internal/domain"
)

const subscriptionBuffer = 8

// Hub is the in-process registry of push subscribers keyed by session id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Subscription]struct{}
}

// Subscription receives the events of one session until Close is called.
type Subscription struct {
	hub       *Hub
	sessionID int64
	ch        chan domain.Event
	once      sync.Once
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for sessionID. The caller must Close it.
func (h *Hub) Subscribe(sessionID int64) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan domain.Event, subscriptionBuffer),
	}

	h.mu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.sessions[sessionID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Broadcast delivers event to every subscriber of sessionID without blocking.
// A full buffer drops its oldest event. It returns the number of subscribers reached.
func (h *Hub) Broadcast(sessionID int64, event domain.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.sessions[sessionID] {
		if sub.offer(event) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live subscriptions for sessionID.
func (h *Hub) Count(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.sessions[sub.sessionID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.sessions, sub.sessionID)
	}
	close(sub.ch)
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

func (s *Subscription) SessionID() int64 {
	return s.sessionID
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// offer runs under the hub read lock, so the channel cannot be closed concurrently.
func (s *Subscription) offer(event domain.Event) bool {
	select {
	case s.ch <- event:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}
