// Package peer maintains the set of known gossip endpoints a node relays
// messages to. This is deliberately separate from the validator registry:
// a node can know about (and relay to) a peer that holds no stake, and a
// registry member can be silent on the gossip layer for a while without
// losing its vote.
package peer

import (
	"sync"
)

// Peer identifies one gossip endpoint by its public key and network
// address.
type Peer struct {
	PublicKey string
	Host      string
	Port      uint16
}

// Match reports whether p is the peer identified by publicKey.
func (p Peer) Match(publicKey string) bool {
	return p.PublicKey == publicKey
}

// =============================================================================

// Set maintains the known-peers table used for broadcast relay (§4.6).
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewSet constructs an empty known-peers table.
func NewSet() *Set {
	return &Set{set: make(map[string]Peer)}
}

// Add records peer as known. It returns false if peer was already known.
func (s *Set) Add(peer Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.set[peer.PublicKey]
	s.set[peer.PublicKey] = peer
	return !exists
}

// Remove drops publicKey from the known-peers table.
func (s *Set) Remove(publicKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, publicKey)
}

// Copy returns every known peer except exclude, for relay fan-out that
// must skip the message's sender.
func (s *Set) Copy(exclude string) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var peers []Peer
	for _, peer := range s.set {
		if !peer.Match(exclude) {
			peers = append(peers, peer)
		}
	}
	return peers
}
