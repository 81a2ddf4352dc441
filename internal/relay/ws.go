package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/classmeet/classmeet/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second

	sendBufferSize = 32
)

// wsClient adapts a gorilla connection to the Peer interface. Outbound
// messages go through a buffered channel drained by writePump; a full buffer
// means the client is too slow and the connection is dropped.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(env *Envelope) (ok bool) {
	payload, err := json.Marshal(env)
	if err != nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		_ = c.conn.Close()
		return false
	}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Serve owns an upgraded signaling connection for its whole lifetime. It
// assigns the connection id, announces it to the client, and pumps messages
// until the transport drops, at which point disconnect cleanup runs.
func (r *Relay) Serve(conn *websocket.Conn) {
	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	r.hub.Add(client)
	r.logger.Debug("ws connected", "conn_id", client.id)

	if !client.Send(&Envelope{Event: EventWelcome, ConnectionID: client.id}) {
		r.hub.Remove(client)
		_ = conn.Close()
		return
	}

	go r.writePump(client)
	r.readPump(client)
}

func (r *Relay) readPump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
		r.HandleDisconnect(client)
		client.closeSend()
		r.logger.Debug("ws disconnected", "conn_id", client.id)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			r.logger.Debug("ws bad json", "conn_id", client.id, "error", err)
			continue
		}

		// SDP and candidates may contain addresses; log sizes only.
		r.logger.Debug("ws recv", "conn_id", client.id, "event", env.Event, "type", env.Type, "to", env.To, "data_bytes", len(env.Data))

		switch env.Event {
		case EventJoin:
			r.HandleJoin(client, env.RoomID, env.UserName)
		case EventSignal:
			r.HandleSignal(client, &env)
		case EventMediaStateChanged:
			state := models.MediaState{}
			if env.MediaState != nil {
				state = *env.MediaState
			}
			r.HandleMediaState(client, env.RoomID, state)
		case EventLeaveRoom:
			r.HandleLeave(client, env.RoomID)
		default:
			r.logger.Debug("ws unknown event", "conn_id", client.id, "event", env.Event)
		}
	}
}

func (r *Relay) writePump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
