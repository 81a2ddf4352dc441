package main

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioSampleInterval = 20 * time.Millisecond
	videoSampleInterval = 33 * time.Millisecond
)

// syntheticSource feeds placeholder samples into local tracks so a headless
// participant still negotiates and sends media. WriteSample on an unbound
// track is a no-op, so the writer can run before negotiation completes.
type syntheticSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	audioOn bool
	videoOn bool

	done     chan struct{}
	stopOnce sync.Once
}

func newSyntheticSource() (*syntheticSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "synthetic")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "synthetic")
	if err != nil {
		return nil, err
	}

	s := &syntheticSource{
		audio:   audio,
		video:   video,
		audioOn: true,
		videoOn: true,
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func (s *syntheticSource) writeLoop() {
	audioTicker := time.NewTicker(audioSampleInterval)
	videoTicker := time.NewTicker(videoSampleInterval)
	defer audioTicker.Stop()
	defer videoTicker.Stop()

	silence := []byte{0xf8, 0xff, 0xfe}
	frame := make([]byte, 64)

	for {
		select {
		case <-s.done:
			return
		case <-audioTicker.C:
			if s.audioEnabled() {
				s.audio.WriteSample(media.Sample{Data: silence, Duration: audioSampleInterval})
			}
		case <-videoTicker.C:
			if s.videoEnabled() {
				s.video.WriteSample(media.Sample{Data: frame, Duration: videoSampleInterval})
			}
		}
	}
}

func (s *syntheticSource) audioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *syntheticSource) videoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *syntheticSource) AudioTrack() webrtc.TrackLocal { return s.audio }
func (s *syntheticSource) VideoTrack() webrtc.TrackLocal { return s.video }

func (s *syntheticSource) SetAudioEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = on
}

func (s *syntheticSource) SetVideoEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOn = on
}

func (s *syntheticSource) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}
