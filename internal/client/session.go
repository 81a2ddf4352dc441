package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmeet/classmeet/internal/relay"
)

// SignalSender is the slice of the signaler that peer sessions need: the
// ability to push a payload to one remote id.
type SignalSender interface {
	SendSignal(to, typ string, payload any) error
}

// RemoteStream is the realized remote media of one peer session. Depending
// on the transport it is either adopted from the remote's stream grouping or
// synthesized track by track.
type RemoteStream struct {
	ID string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

// Tracks returns a snapshot of the stream's tracks.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// PeerSession owns the single peer connection to one remote participant.
// The connection is closed and discarded on teardown, never reused across
// negotiations.
type PeerSession struct {
	remoteID string
	pc       *webrtc.PeerConnection
	logger   *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	attached  map[string]bool // local track ids already added
	remote    *RemoteStream
	closed    bool
}

// SessionManager keys peer sessions by remote connection id and enforces the
// at-most-one-session-per-remote invariant.
type SessionManager struct {
	iceServers []webrtc.ICEServer
	media      *LocalMedia
	signaler   SignalSender
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*PeerSession

	onFailure func(remoteID string)
}

func NewSessionManager(iceServers []webrtc.ICEServer, media *LocalMedia, signaler SignalSender, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		iceServers: iceServers,
		media:      media,
		signaler:   signaler,
		logger:     logger,
		sessions:   make(map[string]*PeerSession),
	}
}

// OnConnectionFailure registers the recovery hook invoked when a session's
// connection reaches a failed or disconnected state.
func (m *SessionManager) OnConnectionFailure(fn func(remoteID string)) {
	m.onFailure = fn
}

// GetOrCreate returns the session for the remote id, building the peer
// connection on first use. Repeated calls for the same id return the same
// session.
func (m *SessionManager) GetOrCreate(remoteID string) (*PeerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[remoteID]; ok {
		return s, nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection for %s: %w", remoteID, err)
	}

	s := &PeerSession{
		remoteID: remoteID,
		pc:       pc,
		logger:   m.logger,
		attached: make(map[string]bool),
	}

	if m.media != nil {
		s.attachLocalTracks(m.media.Tracks())
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.adoptTrack(track)
	})

	// Trickle ICE: forward each discovered candidate immediately. A nil
	// candidate marks the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signaler.SendSignal(remoteID, relay.SignalCandidate, c.ToJSON()); err != nil {
			m.logger.Debug("failed to send candidate", "remote_id", remoteID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug("peer connection state", "remote_id", remoteID, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			if m.onFailure != nil {
				m.onFailure(remoteID)
			}
		}
	})

	m.sessions[remoteID] = s
	m.logger.Debug("peer session created", "remote_id", remoteID)
	return s, nil
}

// Get returns the session for the remote id if one exists.
func (m *SessionManager) Get(remoteID string) (*PeerSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remoteID]
	return s, ok
}

// Close tears down the session for the remote id. Unknown ids are a no-op.
func (m *SessionManager) Close(remoteID string) {
	m.mu.Lock()
	s, ok := m.sessions[remoteID]
	delete(m.sessions, remoteID)
	m.mu.Unlock()

	if ok {
		s.close()
	}
}

// CloseAll tears down every session, tolerating individual close failures.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*PeerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*PeerSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Count reports the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// attachLocalTracks adds local tracks to the connection, skipping any track
// already attached so repeated calls stay idempotent.
func (s *PeerSession) attachLocalTracks(tracks []webrtc.TrackLocal) {
	for _, track := range tracks {
		if s.attached[track.ID()] {
			continue
		}
		if _, err := s.pc.AddTrack(track); err != nil {
			s.logger.Warn("failed to attach local track", "remote_id", s.remoteID, "track_id", track.ID(), "error", err)
			continue
		}
		s.attached[track.ID()] = true
	}
}

// adoptTrack realizes the remote stream. Two paths: when the track arrives
// with the remote's stream grouping, adopt that id wholesale; transports
// that deliver bare tracks get a synthetic per-peer stream instead.
func (s *PeerSession) adoptTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.remote == nil {
		streamID := track.StreamID()
		if streamID == "" {
			streamID = "synthetic-" + s.remoteID
		}
		s.remote = &RemoteStream{ID: streamID}
	}
	remote := s.remote
	s.mu.Unlock()

	remote.addTrack(track)
	s.logger.Debug("remote track adopted", "remote_id", s.remoteID, "kind", track.Kind().String(), "stream_id", remote.ID)
}

// RemoteStream returns the realized remote stream, or nil before any track
// has arrived.
func (s *PeerSession) RemoteStream() *RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// CreateOffer generates the local offer and applies it as the local
// description.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer, nil
}

// CreateAnswer generates the local answer and applies it as the local
// description.
func (s *PeerSession) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription applies the remote description and then flushes the
// pending candidate queue in arrival order. Individual candidate failures
// are logged and skipped; they never abort the flush.
func (s *PeerSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	s.remoteSet = true

	flushed := 0
	for _, candidate := range s.pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("failed to apply queued candidate", "remote_id", s.remoteID, "error", err)
			continue
		}
		flushed++
	}
	if len(s.pending) > 0 {
		s.logger.Debug("flushed pending candidates", "remote_id", s.remoteID, "queued", len(s.pending), "applied", flushed)
	}
	s.pending = nil
	return nil
}

// AddCandidate applies the candidate if a remote description is in place;
// otherwise it is queued until one is. Queueing is what makes out-of-order
// delivery of candidates versus descriptions harmless.
func (s *PeerSession) AddCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		return nil
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

// SignalingState exposes the underlying negotiation state, used to ignore
// duplicate or late answers.
func (s *PeerSession) SignalingState() webrtc.SignalingState {
	return s.pc.SignalingState()
}

// ConnectionState reports the overall connection state.
func (s *PeerSession) ConnectionState() webrtc.PeerConnectionState {
	return s.pc.ConnectionState()
}

func (s *PeerSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.remote = nil
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		s.logger.Debug("peer connection close failed", "remote_id", s.remoteID, "error", err)
	}
}
