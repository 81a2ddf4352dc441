package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/relay"
)

// fakeSignaler stands in for a live signaling connection and records
// everything the orchestrator sends.
type fakeSignaler struct {
	mu          sync.Mutex
	joins       []string
	leaves      []string
	mediaStates []models.MediaState
	signals     []sentSignal
}

func (f *fakeSignaler) ConnectionID() string { return "self" }

func (f *fakeSignaler) Join(roomID, userName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *fakeSignaler) Leave(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeSignaler) SendMediaState(roomID string, state models.MediaState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaStates = append(f.mediaStates, state)
	return nil
}

func (f *fakeSignaler) SendSignal(to, typ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{to: to, typ: typ, payload: payload})
	return nil
}

func (f *fakeSignaler) signalsOfType(typ string) []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentSignal
	for _, s := range f.signals {
		if s.typ == typ {
			out = append(out, s)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *SessionManager, *fakeSignaler) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	signaler := &fakeSignaler{}
	media := NewLocalMedia(newTestSource(t))
	sessions := NewSessionManager(nil, media, signaler, logger)
	o := NewOrchestrator(signaler, sessions, media, logger)

	// Keep recovery timers out of the way of short tests.
	o.answerTimeout = time.Hour
	o.restartDelay = time.Hour

	t.Cleanup(sessions.CloseAll)
	return o, sessions, signaler
}

// waitFor polls until cond holds or the deadline passes. Queue work runs on
// per-remote goroutines, so observable effects are eventually consistent.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestJoinRoomAnnounces(t *testing.T) {
	o, _, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	signaler.mu.Lock()
	defer signaler.mu.Unlock()
	if len(signaler.joins) != 1 || signaler.joins[0] != "room-1" {
		t.Fatalf("expected one join for room-1, got %v", signaler.joins)
	}
}

func TestExistingPeersTriggersOfferToEach(t *testing.T) {
	o, sessions, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnExistingPeers([]models.Participant{
		{ID: "remote-1", UserName: "bob"},
		{ID: "remote-2", UserName: "carol"},
	})

	waitFor(t, func() bool {
		return len(signaler.signalsOfType(relay.SignalOffer)) == 2
	}, "an offer per existing participant")

	offers := signaler.signalsOfType(relay.SignalOffer)
	targets := map[string]bool{}
	for _, s := range offers {
		targets[s.to] = true
	}
	if !targets["remote-1"] || !targets["remote-2"] {
		t.Fatalf("offers went to %v", targets)
	}
	if got := sessions.Count(); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
}

func TestParticipantJoinedDoesNotOffer(t *testing.T) {
	o, sessions, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnParticipantJoined(models.Participant{ID: "remote-1", UserName: "bob"})

	time.Sleep(50 * time.Millisecond)
	if got := len(signaler.signalsOfType(relay.SignalOffer)); got != 0 {
		t.Fatalf("newcomer initiates, expected 0 offers, got %d", got)
	}
	if got := sessions.Count(); got != 0 {
		t.Fatalf("expected no session before the newcomer's offer, got %d", got)
	}
	if got := len(o.Roster()); got != 1 {
		t.Fatalf("expected newcomer in roster, got %d entries", got)
	}
}

func TestIncomingOfferProducesAnswer(t *testing.T) {
	o, sessions, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("failed to create remote peer connection: %v", err)
	}
	defer remote.Close()
	if _, err := remote.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := remote.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := remote.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}

	data, err := json.Marshal(offer)
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}
	o.OnSignal(&relay.Envelope{
		Event: relay.EventSignal,
		Type:  relay.SignalOffer,
		From:  "remote-1",
		Data:  data,
	})

	waitFor(t, func() bool {
		return len(signaler.signalsOfType(relay.SignalAnswer)) == 1
	}, "an answer to the incoming offer")

	answer := signaler.signalsOfType(relay.SignalAnswer)[0]
	if answer.to != "remote-1" {
		t.Fatalf("answer addressed to %q", answer.to)
	}
	session, ok := sessions.Get("remote-1")
	if !ok {
		t.Fatal("expected a session for the offerer")
	}
	if got := session.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("answerer signaling state = %s", got)
	}
}

func TestCandidateBeforeOfferIsQueued(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	o.OnSignal(&relay.Envelope{
		Event: relay.EventSignal,
		Type:  relay.SignalCandidate,
		From:  "remote-1",
		Data:  data,
	})

	waitFor(t, func() bool {
		return sessions.Count() == 1
	}, "a session created for the early candidate")

	session, _ := sessions.Get("remote-1")
	session.mu.Lock()
	queued := len(session.pending)
	remoteSet := session.remoteSet
	session.mu.Unlock()
	if queued != 1 {
		t.Fatalf("expected 1 queued candidate, got %d", queued)
	}
	if remoteSet {
		t.Fatal("remote description must not be set yet")
	}
}

func TestAnswerForUnknownRemoteIgnored(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnSignal(&relay.Envelope{
		Event: relay.EventSignal,
		Type:  relay.SignalAnswer,
		From:  "ghost",
		Data:  json.RawMessage(`{"type":"answer","sdp":""}`),
	})

	time.Sleep(50 * time.Millisecond)
	if got := sessions.Count(); got != 0 {
		t.Fatalf("stray answer must not create sessions, got %d", got)
	}
}

func TestRestartRequestClosesSession(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnExistingPeers([]models.Participant{{ID: "remote-1", UserName: "bob"}})
	waitFor(t, func() bool { return sessions.Count() == 1 }, "session for remote-1")

	o.OnSignal(&relay.Envelope{
		Event: relay.EventSignal,
		Type:  relay.SignalRestart,
		From:  "remote-1",
	})

	waitFor(t, func() bool {
		_, ok := sessions.Get("remote-1")
		return !ok
	}, "session discarded on restart request")
}

func TestParticipantLeftClosesSession(t *testing.T) {
	o, sessions, _ := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnExistingPeers([]models.Participant{{ID: "remote-1", UserName: "bob"}})
	waitFor(t, func() bool { return sessions.Count() == 1 }, "session for remote-1")

	o.OnParticipantLeft("remote-1")

	if _, ok := sessions.Get("remote-1"); ok {
		t.Fatal("expected session closed after participant left")
	}
	if got := len(o.Roster()); got != 0 {
		t.Fatalf("expected empty roster, got %d entries", got)
	}
}

func TestToggleSendsOneMediaStatePerFlip(t *testing.T) {
	o, _, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	state, err := o.ToggleAudio()
	if err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if !state.IsAudioMuted {
		t.Fatal("expected audio muted after first toggle")
	}

	state, err = o.ToggleAudio()
	if err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if state.IsAudioMuted {
		t.Fatal("expected audio unmuted after second toggle")
	}

	signaler.mu.Lock()
	defer signaler.mu.Unlock()
	if len(signaler.mediaStates) != 2 {
		t.Fatalf("expected exactly 2 media-state messages, got %d", len(signaler.mediaStates))
	}
	if !signaler.mediaStates[0].IsAudioMuted || signaler.mediaStates[1].IsAudioMuted {
		t.Fatalf("media-state sequence wrong: %+v", signaler.mediaStates)
	}
}

func TestPeerMediaStateMergedIntoRoster(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	o.OnParticipantJoined(models.Participant{ID: "remote-1", UserName: "bob"})
	o.OnPeerMediaState("remote-1", models.MediaState{IsAudioMuted: true})

	roster := o.Roster()
	if len(roster) != 1 {
		t.Fatalf("expected 1 roster entry, got %d", len(roster))
	}
	if !roster[0].IsAudioMuted || roster[0].IsVideoMuted {
		t.Fatalf("roster state = %+v", roster[0])
	}

	// Unknown peers are ignored, not invented.
	o.OnPeerMediaState("ghost", models.MediaState{IsVideoMuted: true})
	if got := len(o.Roster()); got != 1 {
		t.Fatalf("expected roster unchanged, got %d entries", got)
	}
}

func TestLeaveRoomTearsEverythingDown(t *testing.T) {
	o, sessions, signaler := newTestOrchestrator(t)

	if err := o.JoinRoom("room-1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	o.OnExistingPeers([]models.Participant{
		{ID: "remote-1", UserName: "bob"},
		{ID: "remote-2", UserName: "carol"},
	})
	waitFor(t, func() bool { return sessions.Count() == 2 }, "sessions for both remotes")

	if err := o.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}

	if got := sessions.Count(); got != 0 {
		t.Fatalf("expected all sessions closed, got %d", got)
	}
	if got := len(o.Roster()); got != 0 {
		t.Fatalf("expected empty roster, got %d entries", got)
	}
	signaler.mu.Lock()
	defer signaler.mu.Unlock()
	if len(signaler.leaves) != 1 || signaler.leaves[0] != "room-1" {
		t.Fatalf("expected one leave for room-1, got %v", signaler.leaves)
	}
}
