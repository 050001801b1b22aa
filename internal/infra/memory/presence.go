package memory

import (
	"context"
	"sync"
	"time"
)

// Presence tracks which socket clients are connected to each session.
type Presence struct {
	mu       sync.Mutex
	ttl      time.Duration
	clock    func() time.Time
	sessions map[int64]map[string]time.Time
}

// NewPresence returns a tracker whose entries expire ttl after their last Join; ttl <= 0 disables expiry.
func NewPresence(ttl time.Duration) *Presence {
	return &Presence{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[int64]map[string]time.Time),
	}
}

func (p *Presence) Join(_ context.Context, sessionID int64, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clients, ok := p.sessions[sessionID]
	if !ok {
		clients = make(map[string]time.Time)
		p.sessions[sessionID] = clients
	}
	clients[clientID] = p.clock()
	return nil
}

func (p *Presence) Leave(_ context.Context, sessionID int64, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clients := p.sessions[sessionID]
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(p.sessions, sessionID)
	}
	return nil
}

func (p *Presence) Count(_ context.Context, sessionID int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clients := p.sessions[sessionID]
	if p.ttl > 0 {
		cutoff := p.clock().Add(-p.ttl)
		for id, seen := range clients {
			if seen.Before(cutoff) {
				delete(clients, id)
			}
		}
	}
	return len(clients), nil
}
