package relay

import "sync"

// Peer is one connected signaling endpoint. Send is fire-and-forget: it
// reports whether the message was accepted for delivery, never blocks, and
// carries no acknowledgement from the remote side.
type Peer interface {
	ID() string
	Send(*Envelope) bool
}

// Hub tracks the currently connected peers by connection id.
type Hub struct {
	mu    sync.Mutex
	peers map[string]Peer
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]Peer)}
}

func (h *Hub) Add(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.ID()] = p
}

// Remove forgets the peer. It only removes the exact peer passed in, so a
// reconnect that already replaced the entry is not clobbered by the old
// connection's teardown.
func (h *Hub) Remove(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.peers[p.ID()]; ok && current == p {
		delete(h.peers, p.ID())
	}
}

// SendTo delivers the envelope to the named connection only. A missing or
// unreachable target means the message is dropped; the sender is not told.
func (h *Hub) SendTo(connID string, env *Envelope) bool {
	h.mu.Lock()
	p, ok := h.peers[connID]
	h.mu.Unlock()

	if !ok {
		return false
	}
	return p.Send(env)
}
