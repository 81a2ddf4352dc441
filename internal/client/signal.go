// Package client implements the call participant side: the signaling
// connection, local media state, per-remote peer sessions, and the
// negotiation orchestration that ties them together.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/relay"
)

// EventHandler receives server-pushed room events. Calls arrive from the
// signaler's read loop, one at a time.
type EventHandler interface {
	OnExistingPeers([]models.Participant)
	OnParticipantJoined(models.Participant)
	OnSignal(*relay.Envelope)
	OnParticipantLeft(peerID string)
	OnPeerMediaState(peerID string, state models.MediaState)
}

// Signaler is the client end of the signaling WebSocket. Writes are guarded
// by a mutex so negotiation goroutines can send concurrently.
type Signaler struct {
	conn   *websocket.Conn
	connID string
	logger *slog.Logger

	mu sync.Mutex
}

// Dial connects to the signaling server and waits for the welcome message
// that carries our server-assigned connection id.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Signaler, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	var welcome relay.Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Event != relay.EventWelcome || welcome.ConnectionID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", welcome.Event)
	}

	logger.Debug("signaling connected", "conn_id", welcome.ConnectionID)

	return &Signaler{
		conn:   conn,
		connID: welcome.ConnectionID,
		logger: logger,
	}, nil
}

// ConnectionID returns the id the server assigned to this connection. It is
// the identity other participants know us by.
func (s *Signaler) ConnectionID() string {
	return s.connID
}

func (s *Signaler) send(env *relay.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

func (s *Signaler) Join(roomID, userName string) error {
	return s.send(&relay.Envelope{Event: relay.EventJoin, RoomID: roomID, UserName: userName})
}

func (s *Signaler) Leave(roomID string) error {
	return s.send(&relay.Envelope{Event: relay.EventLeaveRoom, RoomID: roomID})
}

func (s *Signaler) SendMediaState(roomID string, state models.MediaState) error {
	return s.send(&relay.Envelope{Event: relay.EventMediaStateChanged, RoomID: roomID, MediaState: &state})
}

// SendSignal forwards a negotiation payload to one remote participant. The
// payload is marshalled as-is; the relay treats it as opaque.
func (s *Signaler) SendSignal(to, typ string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		data = b
	}
	return s.send(&relay.Envelope{Event: relay.EventSignal, Type: typ, To: to, Data: data})
}

// Run reads server events until the connection drops or ctx is cancelled.
// Cancelling ctx closes the connection, which unblocks the read.
func (s *Signaler) Run(ctx context.Context, h EventHandler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		var env relay.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling read failed: %w", err)
		}

		switch env.Event {
		case relay.EventExistingPeers:
			h.OnExistingPeers(env.Participants)
		case relay.EventParticipantJoined:
			if env.Participant != nil {
				h.OnParticipantJoined(*env.Participant)
			}
		case relay.EventSignal:
			h.OnSignal(&env)
		case relay.EventParticipantLeft:
			h.OnParticipantLeft(env.PeerID)
		case relay.EventPeerMediaStateChanged:
			state := models.MediaState{}
			if env.MediaState != nil {
				state = *env.MediaState
			}
			h.OnPeerMediaState(env.PeerID, state)
		default:
			s.logger.Debug("unhandled signaling event", "event", env.Event)
		}
	}
}

func (s *Signaler) Close() error {
	return s.conn.Close()
}
