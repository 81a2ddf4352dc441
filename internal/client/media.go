package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmeet/classmeet/internal/models"
)

// Source abstracts the capture device. A headless client injects a synthetic
// source; a real one wraps camera and microphone capture. Either track may be
// nil when that kind of capture is unavailable.
type Source interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	Stop() error
}

// LocalMedia owns the one local capture stream. Mute toggles flip the enabled
// flag on the source; tracks are never recreated for a mute. Stop releases
// the capture entirely and is idempotent.
type LocalMedia struct {
	mu           sync.Mutex
	source       Source
	audioEnabled bool
	videoEnabled bool
	stopped      bool
}

func NewLocalMedia(source Source) *LocalMedia {
	return &LocalMedia{
		source:       source,
		audioEnabled: true,
		videoEnabled: true,
	}
}

// Tracks returns the local tracks to attach to a peer session. Nil tracks
// (capture unavailable) are skipped.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tracks []webrtc.TrackLocal
	if t := m.source.AudioTrack(); t != nil {
		tracks = append(tracks, t)
	}
	if t := m.source.VideoTrack(); t != nil {
		tracks = append(tracks, t)
	}
	return tracks
}

// ToggleAudio flips the audio mute flag and returns the resulting state.
func (m *LocalMedia) ToggleAudio() models.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audioEnabled = !m.audioEnabled
	m.source.SetAudioEnabled(m.audioEnabled)
	return m.stateLocked()
}

// ToggleVideo flips the video mute flag and returns the resulting state.
func (m *LocalMedia) ToggleVideo() models.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.videoEnabled = !m.videoEnabled
	m.source.SetVideoEnabled(m.videoEnabled)
	return m.stateLocked()
}

func (m *LocalMedia) State() models.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *LocalMedia) stateLocked() models.MediaState {
	return models.MediaState{
		IsAudioMuted: !m.audioEnabled,
		IsVideoMuted: !m.videoEnabled,
	}
}

// Stop releases the capture source. Further toggles are pointless but safe.
func (m *LocalMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	return m.source.Stop()
}

// MediaErrorCause classifies why capture could not be acquired. All causes
// are retryable from the user's point of view; none of them block joining
// the room for signaling purposes.
type MediaErrorCause string

const (
	MediaDenied   MediaErrorCause = "permission-denied"
	MediaNotFound MediaErrorCause = "device-not-found"
	MediaBusy     MediaErrorCause = "device-busy"
	MediaUnknown  MediaErrorCause = "unknown"
)

type MediaError struct {
	Cause MediaErrorCause
	Err   error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media acquisition failed (%s): %v", e.Cause, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Retryable is true for every capture failure: the user can grant the
// permission, plug the device in, or free it up and try again.
func (e *MediaError) Retryable() bool { return true }

// ClassifyMediaError wraps a capture error with a cause derived from its
// message. Unrecognized errors come back as MediaUnknown, still retryable.
func ClassifyMediaError(err error) *MediaError {
	if err == nil {
		return nil
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me
	}

	msg := strings.ToLower(err.Error())
	cause := MediaUnknown
	switch {
	case strings.Contains(msg, "denied") || strings.Contains(msg, "permission"):
		cause = MediaDenied
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such device"):
		cause = MediaNotFound
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		cause = MediaBusy
	}
	return &MediaError{Cause: cause, Err: err}
}
