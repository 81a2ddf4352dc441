package relay

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/registry"
)

type fakePeer struct {
	id       string
	inbox    []*Envelope
	rejected bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(env *Envelope) bool {
	if p.rejected {
		return false
	}
	p.inbox = append(p.inbox, env)
	return true
}

func (p *fakePeer) byEvent(event string) []*Envelope {
	var out []*Envelope
	for _, env := range p.inbox {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func newTestRelay() (*Relay, *Hub) {
	hub := NewHub()
	return New(registry.New(), hub, slog.New(slog.DiscardHandler)), hub
}

func connect(hub *Hub, id string) *fakePeer {
	p := &fakePeer{id: id}
	hub.Add(p)
	return p
}

func TestJoinSnapshotExcludesJoiner(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	r.HandleJoin(x, "r1", "Xenia")

	snapshots := x.byEvent(EventExistingPeers)
	if len(snapshots) != 1 {
		t.Fatalf("expected one existing-peers reply, got %d", len(snapshots))
	}
	if len(snapshots[0].Participants) != 0 {
		t.Fatalf("first joiner should see an empty room, got %v", snapshots[0].Participants)
	}

	y := connect(hub, "y")
	r.HandleJoin(y, "r1", "Yuri")

	ySnap := y.byEvent(EventExistingPeers)[0]
	if len(ySnap.Participants) != 1 || ySnap.Participants[0].ID != "x" {
		t.Fatalf("second joiner should see only x, got %v", ySnap.Participants)
	}
	for _, p := range ySnap.Participants {
		if p.ID == "y" {
			t.Fatalf("joiner must never appear in its own snapshot")
		}
	}

	joined := x.byEvent(EventParticipantJoined)
	if len(joined) != 1 || joined[0].Participant.ID != "y" || joined[0].Participant.UserName != "Yuri" {
		t.Fatalf("x should be told about y joining, got %v", joined)
	}
	if len(y.byEvent(EventParticipantJoined)) != 0 {
		t.Fatalf("joiner must not receive its own join broadcast")
	}
}

func TestJoinWithoutRoomIDIsNoOp(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	r.HandleJoin(x, "r1", "Xenia")
	y := connect(hub, "y")

	r.HandleJoin(y, "", "Yuri")

	if len(y.inbox) != 0 {
		t.Fatalf("malformed join should produce no reply, got %v", y.inbox)
	}
	if len(x.inbox) != 0 {
		t.Fatalf("malformed join should not be broadcast, got %v", x.inbox)
	}
}

func TestSignalForwardedToTargetOnly(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	z := connect(hub, "z")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")
	r.HandleJoin(z, "r1", "Zoe")

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	r.HandleSignal(x, &Envelope{Event: EventSignal, Type: SignalOffer, To: "y", Data: payload})

	got := y.byEvent(EventSignal)
	if len(got) != 1 {
		t.Fatalf("expected exactly one signal at target, got %d", len(got))
	}
	if got[0].From != "x" {
		t.Fatalf("relay must stamp sender id, got from=%q", got[0].From)
	}
	if string(got[0].Data) != string(payload) {
		t.Fatalf("payload must be forwarded verbatim, got %s", got[0].Data)
	}
	if len(z.byEvent(EventSignal)) != 0 || len(x.byEvent(EventSignal)) != 0 {
		t.Fatalf("signal must never be broadcast")
	}
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	r.HandleJoin(x, "r1", "Xenia")

	// Scenario C: target not present anywhere. No panic, no error, no echo.
	r.HandleSignal(x, &Envelope{Event: EventSignal, Type: SignalOffer, To: "nobody", Data: json.RawMessage(`{}`)})

	if len(x.byEvent(EventSignal)) != 0 {
		t.Fatalf("sender must not receive anything back")
	}
}

func TestSignalWithoutTargetIsNoOp(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")

	r.HandleSignal(x, &Envelope{Event: EventSignal, Type: SignalOffer})

	if len(y.byEvent(EventSignal)) != 0 {
		t.Fatalf("signal without target must not be delivered")
	}
}

func TestMediaStateBroadcast(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")

	r.HandleMediaState(x, "r1", models.MediaState{IsAudioMuted: true})

	got := y.byEvent(EventPeerMediaStateChanged)
	if len(got) != 1 {
		t.Fatalf("expected one media-state broadcast, got %d", len(got))
	}
	if got[0].PeerID != "x" || got[0].MediaState == nil || !got[0].MediaState.IsAudioMuted {
		t.Fatalf("unexpected media-state envelope: %+v", got[0])
	}
	if len(x.byEvent(EventPeerMediaStateChanged)) != 0 {
		t.Fatalf("sender must not receive its own media-state broadcast")
	}

	// Registry record reflects the merge.
	participants := r.registry.ListParticipants("r1")
	for _, p := range participants {
		if p.ID == "x" && !p.IsAudioMuted {
			t.Fatalf("registry record should carry the new flags")
		}
	}
}

func TestLeaveNotifiesAndDeletesEmptyRoom(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")

	// Scenario B: x leaves, y is told, room survives until y leaves too.
	r.HandleLeave(x, "r1")

	left := y.byEvent(EventParticipantLeft)
	if len(left) != 1 || left[0].PeerID != "x" {
		t.Fatalf("y should see x leave, got %v", left)
	}
	if len(r.registry.ListRooms()) != 1 {
		t.Fatalf("room should still exist while y remains")
	}

	r.HandleLeave(y, "r1")
	if len(r.registry.ListRooms()) != 0 {
		t.Fatalf("room should be deleted once empty")
	}
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")

	// Bare transport death: no leave-room was ever sent.
	r.HandleDisconnect(x)

	left := y.byEvent(EventParticipantLeft)
	if len(left) != 1 || left[0].PeerID != "x" {
		t.Fatalf("y should learn about x's disconnect, got %v", left)
	}
	if _, ok := r.registry.RoomOf("x"); ok {
		t.Fatalf("x should be gone from the registry")
	}
	if hub.SendTo("x", &Envelope{Event: EventWelcome}) {
		t.Fatalf("x should be gone from the hub")
	}
}

func TestJoinWhileJoinedLeavesFirst(t *testing.T) {
	r, hub := newTestRelay()

	x := connect(hub, "x")
	y := connect(hub, "y")
	r.HandleJoin(x, "r1", "Xenia")
	r.HandleJoin(y, "r1", "Yuri")

	r.HandleJoin(x, "r2", "Xenia")

	left := y.byEvent(EventParticipantLeft)
	if len(left) != 1 || left[0].PeerID != "x" {
		t.Fatalf("r1 members should see x leave on re-join, got %v", left)
	}
	if roomID, _ := r.registry.RoomOf("x"); roomID != "r2" {
		t.Fatalf("x should now be in r2, got %q", roomID)
	}
}

func TestFailedSendDoesNotRollBackRegistry(t *testing.T) {
	r, hub := newTestRelay()

	x := &fakePeer{id: "x", rejected: true}
	hub.Add(x)
	r.HandleJoin(x, "r1", "Xenia")

	if roomID, ok := r.registry.RoomOf("x"); !ok || roomID != "r1" {
		t.Fatalf("registry mutation must survive a failed reply send")
	}
}
