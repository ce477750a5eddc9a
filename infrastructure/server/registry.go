package server

import (
	"sync"

	"github.com/samber/lo"
)

// Registry maps each user to the single socket currently serving them.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Add registers p for its user and returns the peer it replaced, if any.
// The replaced peer is closed outside the lock.
func (r *Registry) Add(p *Peer) *Peer {
	r.mu.Lock()
	old, ok := r.peers[p.UserID]
	r.peers[p.UserID] = p
	r.mu.Unlock()

	if !ok {
		return nil
	}
	old.CloseWithReason(CloseSessionReplaced, "session_replaced")
	return old
}

// Remove unregisters p. A late Remove from a replaced peer leaves its
// successor in place.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.peers[p.UserID]; ok && current.ID == p.ID {
		delete(r.peers, p.UserID)
		return true
	}
	return false
}

func (r *Registry) Get(userID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	peers := lo.Values(r.peers)
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
