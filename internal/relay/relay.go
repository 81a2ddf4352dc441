// Package relay bridges signaling connections to the room registry and
// forwards negotiation messages between peers. It never participates in the
// media path.
package relay

import (
	"log/slog"

	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/registry"
)

// Relay routes signaling traffic. All outbound sends are fire-and-forget; a
// failed delivery never rolls back the registry mutation that preceded it.
type Relay struct {
	registry *registry.Registry
	hub      *Hub
	logger   *slog.Logger
}

func New(reg *registry.Registry, hub *Hub, logger *slog.Logger) *Relay {
	return &Relay{
		registry: reg,
		hub:      hub,
		logger:   logger,
	}
}

// HandleJoin registers the peer in the room, replies to it with the snapshot
// of participants captured before its own insertion (so a joiner never sees
// itself), and notifies the rest of the room. A join without a room id is a
// no-op. A connection that is already joined somewhere leaves that room first.
func (r *Relay) HandleJoin(p Peer, roomID, userName string) {
	if roomID == "" {
		r.logger.Debug("join without room id ignored", "conn_id", p.ID())
		return
	}

	if current, ok := r.registry.RoomOf(p.ID()); ok {
		r.logger.Debug("implicit leave before join", "conn_id", p.ID(), "room_id", current)
		r.removeAndNotify(p, current)
	}

	snapshot := r.registry.ListParticipants(roomID)

	participant := models.Participant{
		ID:       p.ID(),
		UserName: userName,
	}
	r.registry.AddParticipant(roomID, participant)
	r.logger.Info("participant joined", "room_id", roomID, "conn_id", p.ID(), "user_name", userName, "room_size", len(snapshot)+1)

	p.Send(&Envelope{Event: EventExistingPeers, Participants: snapshot})

	r.broadcast(roomID, p.ID(), &Envelope{
		Event:       EventParticipantJoined,
		Participant: &participant,
	})
}

// HandleSignal forwards the envelope to its target connection only, stamped
// with the sender's id. The payload type is opaque here. A missing target
// drops the message silently: at-most-once, no queueing.
func (r *Relay) HandleSignal(p Peer, env *Envelope) {
	if env.To == "" {
		r.logger.Debug("signal without target ignored", "conn_id", p.ID(), "type", env.Type)
		return
	}

	env.Event = EventSignal
	env.From = p.ID()
	if !r.hub.SendTo(env.To, env) {
		// Sender finds out through its own connection state, not from us.
		r.logger.Debug("signal target not connected", "from", p.ID(), "to", env.To, "type", env.Type)
	}
}

// HandleMediaState merges the new mute flags into the registry and fans them
// out to the rest of the room.
func (r *Relay) HandleMediaState(p Peer, roomID string, state models.MediaState) {
	if roomID == "" {
		return
	}

	r.registry.UpdateMediaState(roomID, p.ID(), state)
	r.broadcast(roomID, p.ID(), &Envelope{
		Event:      EventPeerMediaStateChanged,
		PeerID:     p.ID(),
		MediaState: &state,
	})
}

// HandleLeave processes an explicit leave-room message.
func (r *Relay) HandleLeave(p Peer, roomID string) {
	if roomID == "" {
		return
	}
	r.removeAndNotify(p, roomID)
}

// HandleDisconnect cleans up after a connection died without announcing its
// membership. The reverse index resolves the room directly; no full scan.
func (r *Relay) HandleDisconnect(p Peer) {
	if roomID, ok := r.registry.RoomOf(p.ID()); ok {
		r.removeAndNotify(p, roomID)
	}
	r.hub.Remove(p)
}

func (r *Relay) removeAndNotify(p Peer, roomID string) {
	r.registry.RemoveParticipant(roomID, p.ID())
	r.logger.Info("participant left", "room_id", roomID, "conn_id", p.ID())
	r.broadcast(roomID, p.ID(), &Envelope{
		Event:  EventParticipantLeft,
		PeerID: p.ID(),
	})
}

// broadcast sends the envelope to every room member except the one named.
func (r *Relay) broadcast(roomID, exceptConnID string, env *Envelope) {
	for _, member := range r.registry.ListParticipants(roomID) {
		if member.ID == exceptConnID {
			continue
		}
		if !r.hub.SendTo(member.ID, env) {
			r.logger.Debug("broadcast member unreachable", "room_id", roomID, "conn_id", member.ID, "event", env.Event)
		}
	}
}
