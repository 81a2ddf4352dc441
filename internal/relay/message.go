package relay

import (
	"encoding/json"

	"github.com/classmeet/classmeet/internal/models"
)

// Events exchanged over the signaling WebSocket. The server only ever
// interprets the envelope; signal payloads are forwarded verbatim.
const (
	EventWelcome               = "welcome"
	EventJoin                  = "join"
	EventExistingPeers         = "existing-peers"
	EventParticipantJoined     = "participant-joined"
	EventSignal                = "signal"
	EventMediaStateChanged     = "media-state-changed"
	EventPeerMediaStateChanged = "peer-media-state-changed"
	EventLeaveRoom             = "leave-room"
	EventParticipantLeft       = "participant-left"
)

// Signal payload types carried inside a signal envelope. Opaque to the relay;
// listed here for the client side.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
	SignalRestart   = "restart"
)

// Envelope is the JSON structure for every message in both directions.
// Fields are populated per event; unused ones are omitted on the wire.
type Envelope struct {
	Event        string               `json:"event"`
	ConnectionID string               `json:"connectionId,omitempty"` // welcome
	RoomID       string               `json:"roomId,omitempty"`       // join, media-state-changed, leave-room
	UserName     string               `json:"userName,omitempty"`     // join
	Type         string               `json:"type,omitempty"`         // signal: offer|answer|ice-candidate|restart
	From         string               `json:"from,omitempty"`         // signal, stamped by the relay
	To           string               `json:"to,omitempty"`           // signal
	Data         json.RawMessage      `json:"data,omitempty"`         // signal payload, forwarded verbatim
	PeerID       string               `json:"peerId,omitempty"`       // participant-left, peer-media-state-changed
	MediaState   *models.MediaState   `json:"mediaState,omitempty"`
	Participant  *models.Participant  `json:"participant,omitempty"`  // participant-joined
	Participants []models.Participant `json:"participants,omitempty"` // existing-peers
}
