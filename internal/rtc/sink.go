package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
	"github.com/Jeong-dawon/MultiFlexer/internal/session"
)

var ErrSinkStopped = errors.New("media sink stopped")

// Sink receives one sender's screen over its own peer connection. Decoding
// and rendering are left to whatever is bound to the display handle; the
// sink tracks playback and reports the first packet after every (re)start.
type Sink struct {
	senderID      string
	transport     *PCTransport
	events        session.MediaEvents
	statsInterval time.Duration

	lock       sync.Mutex
	started    bool
	paused     bool
	stopped    bool
	frameArmed bool
	handle     display.Handle
	track      *MediaTrack
	trackSSRC  webrtc.SSRC
	stopCh     chan struct{}
	stopOnce   sync.Once
}

var _ session.Media = (*Sink)(nil)

// NewSinkFactory returns the factory the registry uses to build a sink per
// sender.
func NewSinkFactory(conf *config.Config, rtcConf *config.WebRTCConfig) session.MediaFactory {
	return func(senderID string, events session.MediaEvents) (session.Media, error) {
		return NewSink(senderID, events, TransportParams{
			EnabledCodecs: conf.Peer.EnabledCodecs,
			Config:        rtcConf,
		}, conf.Session.StatsInterval)
	}
}

func NewSink(senderID string, events session.MediaEvents, params TransportParams, statsInterval time.Duration) (*Sink, error) {
	transport, err := NewPCTransport(params)
	if err != nil {
		return nil, err
	}

	if statsInterval <= 0 {
		statsInterval = time.Second
	}

	s := &Sink{
		senderID:      senderID,
		transport:     transport,
		events:        events,
		statsInterval: statsInterval,
		frameArmed:    true,
		stopCh:        make(chan struct{}),
	}

	transport.pc.OnICECandidate(s.onICECandidate)
	transport.pc.OnICEConnectionStateChange(s.onICEConnectionStateChange)
	transport.pc.OnTrack(s.onTrack)

	return s, nil
}

// Start prepares playback. The pipeline has nothing to wait for, so the
// playing notification follows right away on its own goroutine.
func (s *Sink) Start() error {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return ErrSinkStopped
	}
	s.started = true
	s.lock.Unlock()

	go s.emitPlaying()

	return nil
}

func (s *Sink) emitPlaying() {
	if s.events.OnPlaying != nil {
		s.events.OnPlaying()
	}
}

func (s *Sink) Stop() {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return
	}
	s.stopped = true
	track := s.track
	s.lock.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	if track != nil {
		track.Close()
	}

	// Close can block while candidates are gathered.
	go s.transport.Close()
}

func (s *Sink) Pause() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.paused = true
}

// Resume restarts playback and asks the sender for a keyframe so the next
// frame can be shown without waiting for the regular interval.
func (s *Sink) Resume() {
	s.lock.Lock()
	wasPaused := s.paused
	s.paused = false
	if wasPaused {
		s.frameArmed = true
	}
	ssrc := s.trackSSRC
	stopped := s.stopped
	s.lock.Unlock()

	if wasPaused && ssrc != 0 && !stopped {
		s.requestKeyframe(ssrc)
	}
}

func (s *Sink) BindDisplay(handle display.Handle) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.handle = handle
}

func (s *Sink) Handle() display.Handle {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.handle
}

func (s *Sink) IsPlaying() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.started && !s.paused && !s.stopped
}

func (s *Sink) AddRecvOnlyTransceiver() error {
	return s.transport.AddRecvOnlyTransceiver()
}

func (s *Sink) CreateOffer() (string, error) {
	return s.transport.CreateOffer()
}

func (s *Sink) SetRemoteAnswer(sdp string) error {
	return s.transport.SetRemoteAnswer(sdp)
}

func (s *Sink) AddICECandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	return s.transport.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	})
}

func (s *Sink) onICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		log.Debug().Str("service", "sink").Str("senderID", s.senderID).Msg("ice gathering complete")
		return
	}
	if s.events.OnLocalCandidate == nil {
		return
	}

	init := candidate.ToJSON()
	local := session.LocalCandidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		local.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		local.SDPMLineIndex = *init.SDPMLineIndex
	}

	s.events.OnLocalCandidate(local)
}

func (s *Sink) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	log.Debug().Str("service", "sink").Str("senderID", s.senderID).Str("state", state.String()).Msg("ice connection state changed")

	if s.events.OnICEState != nil {
		s.events.OnICEState(mapICEState(state))
	}
}

func mapICEState(state webrtc.ICEConnectionState) session.ICEState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return session.ICEChecking
	case webrtc.ICEConnectionStateConnected:
		return session.ICEConnected
	case webrtc.ICEConnectionStateCompleted:
		return session.ICECompleted
	case webrtc.ICEConnectionStateFailed:
		return session.ICEFailed
	case webrtc.ICEConnectionStateDisconnected:
		return session.ICEDisconnected
	case webrtc.ICEConnectionStateClosed:
		return session.ICEClosed
	default:
		return session.ICENew
	}
}

func (s *Sink) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Info().
		Str("service", "sink").
		Str("senderID", s.senderID).
		Str("codec", track.Codec().MimeType).
		Uint32("ssrc", uint32(track.SSRC())).
		Msg("track received")

	mt := NewMediaTrack(s.senderID, track.Kind(), s.onPacket)

	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return
	}
	if s.track != nil {
		s.track.Close()
	}
	s.track = mt
	s.trackSSRC = track.SSRC()
	s.lock.Unlock()

	s.requestKeyframe(track.SSRC())

	go mt.ReadLoop(track)
	go s.reportStats(mt)
}

func (s *Sink) onPacket(_ *rtp.Packet) {
	s.lock.Lock()
	fire := s.frameArmed && !s.paused && !s.stopped
	if fire {
		s.frameArmed = false
	}
	s.lock.Unlock()

	if fire && s.events.OnFirstFrame != nil {
		s.events.OnFirstFrame()
	}
}

func (s *Sink) requestKeyframe(ssrc webrtc.SSRC) {
	err := s.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	})
	if err != nil {
		log.Debug().Str("service", "sink").Str("senderID", s.senderID).Err(err).Msg("keyframe request failed")
	}
}

func (s *Sink) reportStats(mt *MediaTrack) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			stats := mt.Sample(now)
			log.Debug().
				Str("service", "sink").
				Str("senderID", s.senderID).
				Uint64("packets", stats.Packets).
				Uint64("bytes", stats.Bytes).
				Float64("kbps", stats.BitrateKbps).
				Msg("receive stats")
		case <-mt.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
