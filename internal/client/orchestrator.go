package client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/relay"
)

const (
	defaultAnswerTimeout      = 15 * time.Second
	defaultRestartDelay       = 3 * time.Second
	defaultRestartMinInterval = 10 * time.Second
)

// signalClient is what the orchestrator needs from the signaling connection.
type signalClient interface {
	ConnectionID() string
	Join(roomID, userName string) error
	Leave(roomID string) error
	SendMediaState(roomID string, state models.MediaState) error
	SendSignal(to, typ string, payload any) error
}

// Orchestrator drives offer/answer negotiation for every remote participant
// in the joined room. It reacts to membership events, serializes negotiation
// per remote id, and recovers failed connections with debounced restarts.
//
// Initiation rule: the joining side offers to every participant in its
// snapshot; the side that receives a participant-joined broadcast waits for
// that offer. Each pair therefore has exactly one initiator — the newcomer —
// so offers never collide.
type Orchestrator struct {
	signaler signalClient
	sessions *SessionManager
	media    *LocalMedia
	logger   *slog.Logger
	queues   *peerQueues

	mu          sync.Mutex
	roomID      string
	joined      bool
	roster      map[string]models.Participant
	lastRestart map[string]time.Time
	offerTimers map[string]*time.Timer

	answerTimeout      time.Duration
	restartDelay       time.Duration
	restartMinInterval time.Duration
}

func NewOrchestrator(signaler signalClient, sessions *SessionManager, media *LocalMedia, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		signaler: signaler,
		sessions: sessions,
		media:    media,
		logger:   logger,
		queues:   newPeerQueues(logger),

		roster:      make(map[string]models.Participant),
		lastRestart: make(map[string]time.Time),
		offerTimers: make(map[string]*time.Timer),

		answerTimeout:      defaultAnswerTimeout,
		restartDelay:       defaultRestartDelay,
		restartMinInterval: defaultRestartMinInterval,
	}
	sessions.OnConnectionFailure(o.scheduleRecovery)
	return o
}

// JoinRoom announces us to the room. Media acquisition is independent: a
// client whose capture failed still joins for signaling and presence.
func (o *Orchestrator) JoinRoom(roomID, userName string) error {
	o.mu.Lock()
	o.roomID = roomID
	o.joined = true
	o.roster = make(map[string]models.Participant)
	o.mu.Unlock()

	return o.signaler.Join(roomID, userName)
}

// LeaveRoom tears the call down: stop local tracks, close every peer
// session (which clears the pending-candidate queues), then tell the server.
// Each step runs even if the previous one failed.
func (o *Orchestrator) LeaveRoom() error {
	o.mu.Lock()
	roomID := o.roomID
	o.joined = false
	o.roomID = ""
	o.roster = make(map[string]models.Participant)
	for id, timer := range o.offerTimers {
		timer.Stop()
		delete(o.offerTimers, id)
	}
	o.mu.Unlock()

	var errs []error
	if o.media != nil {
		if err := o.media.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	o.sessions.CloseAll()
	o.queues.reset()
	if roomID != "" {
		if err := o.signaler.Leave(roomID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToggleAudio flips the local audio mute flag and announces the new state.
// Exactly one media-state message goes out per toggle.
func (o *Orchestrator) ToggleAudio() (models.MediaState, error) {
	state := o.media.ToggleAudio()
	return state, o.announceMediaState(state)
}

// ToggleVideo is the video counterpart of ToggleAudio.
func (o *Orchestrator) ToggleVideo() (models.MediaState, error) {
	state := o.media.ToggleVideo()
	return state, o.announceMediaState(state)
}

func (o *Orchestrator) announceMediaState(state models.MediaState) error {
	o.mu.Lock()
	roomID := o.roomID
	joined := o.joined
	o.mu.Unlock()

	if !joined {
		return nil
	}
	return o.signaler.SendMediaState(roomID, state)
}

// Roster returns a snapshot of the known remote participants.
func (o *Orchestrator) Roster() []models.Participant {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.Participant, 0, len(o.roster))
	for _, p := range o.roster {
		out = append(out, p)
	}
	return out
}

// OnExistingPeers handles the snapshot sent only to us after joining: we are
// the newcomer, so we initiate an offer toward every existing participant.
func (o *Orchestrator) OnExistingPeers(participants []models.Participant) {
	o.mu.Lock()
	for _, p := range participants {
		o.roster[p.ID] = p
	}
	o.mu.Unlock()

	for _, p := range participants {
		remoteID := p.ID
		o.queues.enqueue(remoteID, func() { o.sendOffer(remoteID) })
	}
}

// OnParticipantJoined records the newcomer. It will offer to us; creating
// the session eagerly here would only race its offer.
func (o *Orchestrator) OnParticipantJoined(p models.Participant) {
	o.mu.Lock()
	o.roster[p.ID] = p
	o.mu.Unlock()
	o.logger.Info("participant joined room", "remote_id", p.ID, "user_name", p.UserName)
}

// OnSignal routes a relayed negotiation message onto the sender's ordered
// queue, so description operations for one remote never race each other.
func (o *Orchestrator) OnSignal(env *relay.Envelope) {
	from := env.From
	if from == "" {
		return
	}
	o.queues.enqueue(from, func() { o.handleSignal(env) })
}

// OnParticipantLeft drops everything we hold for the departed remote.
func (o *Orchestrator) OnParticipantLeft(peerID string) {
	o.mu.Lock()
	delete(o.roster, peerID)
	if timer, ok := o.offerTimers[peerID]; ok {
		timer.Stop()
		delete(o.offerTimers, peerID)
	}
	o.mu.Unlock()

	o.sessions.Close(peerID)
	o.queues.drop(peerID)
	o.logger.Info("participant left room", "remote_id", peerID)
}

// OnPeerMediaState merges a remote mute change into the roster.
func (o *Orchestrator) OnPeerMediaState(peerID string, state models.MediaState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.roster[peerID]
	if !ok {
		return
	}
	p.IsAudioMuted = state.IsAudioMuted
	p.IsVideoMuted = state.IsVideoMuted
	o.roster[peerID] = p
}

func (o *Orchestrator) handleSignal(env *relay.Envelope) {
	switch env.Type {
	case relay.SignalOffer:
		o.handleOffer(env.From, env.Data)
	case relay.SignalAnswer:
		o.handleAnswer(env.From, env.Data)
	case relay.SignalCandidate:
		o.handleCandidate(env.From, env.Data)
	case relay.SignalRestart:
		o.handleRestart(env.From)
	default:
		o.logger.Debug("unknown signal type", "from", env.From, "type", env.Type)
	}
}

// handleOffer is the answerer path: adopt the offer as remote description
// (flushing queued candidates), then answer.
func (o *Orchestrator) handleOffer(from string, data json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		o.logger.Warn("malformed offer", "from", from, "error", err)
		return
	}

	// A fresh offer after a failure means the remote discarded its side;
	// discard ours too rather than negotiating on a dead connection.
	if s, ok := o.sessions.Get(from); ok {
		state := s.ConnectionState()
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			o.sessions.Close(from)
		}
	}

	session, err := o.sessions.GetOrCreate(from)
	if err != nil {
		o.logger.Error("failed to create session for offer", "from", from, "error", err)
		return
	}

	if err := session.SetRemoteDescription(offer); err != nil {
		o.logger.Warn("failed to apply offer", "from", from, "error", err)
		return
	}

	answer, err := session.CreateAnswer()
	if err != nil {
		o.logger.Warn("failed to create answer", "from", from, "error", err)
		return
	}

	if err := o.signaler.SendSignal(from, relay.SignalAnswer, answer); err != nil {
		o.logger.Warn("failed to send answer", "to", from, "error", err)
	}
}

// handleAnswer completes the offerer path. Answers for unknown sessions and
// duplicate answers on an already-stable session are ignored, not errors.
func (o *Orchestrator) handleAnswer(from string, data json.RawMessage) {
	session, ok := o.sessions.Get(from)
	if !ok {
		o.logger.Debug("answer for unknown session ignored", "from", from)
		return
	}
	if session.SignalingState() == webrtc.SignalingStateStable {
		o.logger.Debug("duplicate answer ignored", "from", from)
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		o.logger.Warn("malformed answer", "from", from, "error", err)
		return
	}

	if err := session.SetRemoteDescription(answer); err != nil {
		o.logger.Warn("failed to apply answer", "from", from, "error", err)
		return
	}
	o.cancelOfferTimer(from)
}

// handleCandidate applies or queues a network candidate. A candidate that
// arrives before any exchange with the sender still gets a session so the
// queue has somewhere to live.
func (o *Orchestrator) handleCandidate(from string, data json.RawMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		o.logger.Warn("malformed candidate", "from", from, "error", err)
		return
	}

	session, err := o.sessions.GetOrCreate(from)
	if err != nil {
		o.logger.Error("failed to create session for candidate", "from", from, "error", err)
		return
	}
	if err := session.AddCandidate(candidate); err != nil {
		o.logger.Warn("failed to apply candidate", "from", from, "error", err)
	}
}

// handleRestart discards our side of the pair; the remote that requested the
// restart re-offers with a fresh connection.
func (o *Orchestrator) handleRestart(from string) {
	o.logger.Info("negotiation restart requested", "from", from)
	o.sessions.Close(from)
}

// sendOffer is the offerer path for one remote: get-or-create the session,
// send the offer, and arm the answer timeout.
func (o *Orchestrator) sendOffer(remoteID string) {
	session, err := o.sessions.GetOrCreate(remoteID)
	if err != nil {
		o.logger.Error("failed to create session", "remote_id", remoteID, "error", err)
		return
	}

	offer, err := session.CreateOffer()
	if err != nil {
		o.logger.Warn("failed to create offer", "remote_id", remoteID, "error", err)
		return
	}

	if err := o.signaler.SendSignal(remoteID, relay.SignalOffer, offer); err != nil {
		o.logger.Warn("failed to send offer", "to", remoteID, "error", err)
		return
	}
	o.armOfferTimer(remoteID)
}

func (o *Orchestrator) armOfferTimer(remoteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if timer, ok := o.offerTimers[remoteID]; ok {
		timer.Stop()
	}
	o.offerTimers[remoteID] = time.AfterFunc(o.answerTimeout, func() {
		o.logger.Warn("no answer within timeout", "remote_id", remoteID)
		o.scheduleRecovery(remoteID)
	})
}

func (o *Orchestrator) cancelOfferTimer(remoteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if timer, ok := o.offerTimers[remoteID]; ok {
		timer.Stop()
		delete(o.offerTimers, remoteID)
	}
}

// scheduleRecovery waits out the debounce delay before restarting, since
// disconnected states often heal on their own.
func (o *Orchestrator) scheduleRecovery(remoteID string) {
	time.AfterFunc(o.restartDelay, func() {
		o.restart(remoteID)
	})
}

// restart discards the pair's session on both sides and re-offers. Restarts
// per remote are rate-limited so a flapping link cannot trigger a
// renegotiation storm.
func (o *Orchestrator) restart(remoteID string) {
	o.mu.Lock()
	if !o.joined {
		o.mu.Unlock()
		return
	}
	if _, ok := o.roster[remoteID]; !ok {
		o.mu.Unlock()
		return
	}
	if last, ok := o.lastRestart[remoteID]; ok && time.Since(last) < o.restartMinInterval {
		o.mu.Unlock()
		o.logger.Debug("restart suppressed by rate limit", "remote_id", remoteID)
		return
	}
	o.lastRestart[remoteID] = time.Now()
	o.mu.Unlock()

	// The blip may have healed during the debounce delay.
	if s, ok := o.sessions.Get(remoteID); ok && s.ConnectionState() == webrtc.PeerConnectionStateConnected {
		return
	}

	o.logger.Info("restarting negotiation", "remote_id", remoteID)
	o.sessions.Close(remoteID)
	if err := o.signaler.SendSignal(remoteID, relay.SignalRestart, nil); err != nil {
		o.logger.Debug("failed to send restart", "to", remoteID, "error", err)
	}
	o.queues.enqueue(remoteID, func() { o.sendOffer(remoteID) })
}
