// Package session holds the receiver side negotiation state of one sender.
//
// Every exported method of PeerSession must be called from the serialized
// loop. Callbacks coming from the media layer are posted to the loop through
// the session's executor before they touch any field.
package session

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/display"
	"github.com/Jeong-dawon/MultiFlexer/internal/loop"
	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
	"github.com/Jeong-dawon/MultiFlexer/internal/telemetry"
)

const DefaultGracePeriod = 800 * time.Millisecond

type Options struct {
	SenderID    string
	Executor    loop.Executor
	Emitter     Emitter
	Factory     MediaFactory
	GracePeriod time.Duration

	// OnDown is called once per down period when ICE stays down past the
	// grace period.
	OnDown       func(senderID, reason string)
	OnFirstFrame func(senderID string)
}

type PeerSession struct {
	id      string
	exec    loop.Executor
	emitter Emitter
	media   Media
	grace   time.Duration

	onDown       func(senderID, reason string)
	onFirstFrame func(senderID string)

	state            NegotiationState
	ice              ICEState
	pendingOfferSdp  string
	transceiverAdded bool

	negotiationWanted bool
	senderReady       bool
	offerDelivered    bool
	localCandidates   []LocalCandidate
	shareActive       bool

	graceTimer   *time.Timer
	graceGen     int
	downReported bool
}

// New builds the media layer for the sender. A factory failure is returned as
// *MediaInitError and leaves nothing behind.
func New(opts Options) (*PeerSession, error) {
	if opts.Executor == nil {
		opts.Executor = loop.Inline
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	s := &PeerSession{
		id:           opts.SenderID,
		exec:         opts.Executor,
		emitter:      opts.Emitter,
		grace:        opts.GracePeriod,
		onDown:       opts.OnDown,
		onFirstFrame: opts.OnFirstFrame,
		state:        Idle,
		ice:          ICENew,
		shareActive:  true,
	}

	media, err := opts.Factory(opts.SenderID, MediaEvents{
		OnPlaying: func() {
			s.exec.Post(s.handlePlaying)
		},
		OnFirstFrame: func() {
			s.exec.Post(s.handleFirstFrame)
		},
		OnICEState: func(state ICEState) {
			s.exec.Post(func() { s.handleICEState(state) })
		},
		OnLocalCandidate: func(c LocalCandidate) {
			s.exec.Post(func() { s.handleLocalCandidate(c) })
		},
	})
	if err != nil {
		telemetry.OperationFailed("media_init", "factory")
		return nil, &MediaInitError{SenderID: opts.SenderID, Err: err}
	}
	s.media = media

	telemetry.SessionStarted()

	return s, nil
}

func (s *PeerSession) ID() string {
	return s.id
}

func (s *PeerSession) State() NegotiationState {
	return s.state
}

func (s *PeerSession) ICEState() ICEState {
	return s.ice
}

func (s *PeerSession) PendingOffer() string {
	return s.pendingOfferSdp
}

func (s *PeerSession) TransceiverAdded() bool {
	return s.transceiverAdded
}

func (s *PeerSession) ShareActive() bool {
	return s.shareActive
}

func (s *PeerSession) SetShareActive(active bool) {
	s.shareActive = active
}

func (s *PeerSession) IsPlaying() bool {
	if s.state == Closed {
		return false
	}
	return s.media.IsPlaying()
}

func (s *PeerSession) Closed() bool {
	return s.state == Closed
}

func (s *PeerSession) transition(next NegotiationState) error {
	if !s.state.CanTransitionTo(next) {
		log.Warn().
			Str("service", "session").
			Str("senderID", s.id).
			Str("from", s.state.String()).
			Str("to", next.String()).
			Msg("rejected state transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}

	log.Debug().
		Str("service", "session").
		Str("senderID", s.id).
		Str("from", s.state.String()).
		Str("to", next.String()).
		Msg("state transition")
	s.state = next

	return nil
}

// Start asks the media layer to begin. The session becomes Ready once the
// media reports that it is playing.
func (s *PeerSession) Start() error {
	if err := s.transition(AwaitingPlaying); err != nil {
		return err
	}

	if err := s.media.Start(); err != nil {
		telemetry.OperationFailed("media_start", "sink")
		return fmt.Errorf("start media for sender %s: %w", s.id, err)
	}

	return nil
}

func (s *PeerSession) handlePlaying() {
	if s.state != AwaitingPlaying {
		return
	}
	if err := s.transition(Ready); err != nil {
		return
	}

	if !s.ensureTransceiver() {
		return
	}

	if s.negotiationWanted {
		s.negotiationWanted = false
		s.negotiate()
	}
}

func (s *PeerSession) ensureTransceiver() bool {
	if s.transceiverAdded {
		return true
	}

	if err := s.media.AddRecvOnlyTransceiver(); err != nil {
		log.Error().Str("service", "session").Str("senderID", s.id).Err(err).Msg("cannot add recv-only transceiver")
		return false
	}
	s.transceiverAdded = true

	return true
}

// RequestNegotiation starts an offer. Requests made before the media is
// playing run once it is; requests during an ongoing negotiation are absorbed.
func (s *PeerSession) RequestNegotiation() {
	switch s.state {
	case Negotiating, OfferSent, Closed:
		log.Debug().Str("service", "session").Str("senderID", s.id).Str("state", s.state.String()).Msg("negotiation request absorbed")
		return
	case Idle, AwaitingPlaying:
		s.negotiationWanted = true
		return
	}

	if !s.ensureTransceiver() {
		s.negotiationWanted = true
		return
	}

	s.negotiate()
}

func (s *PeerSession) negotiate() {
	if err := s.transition(Negotiating); err != nil {
		return
	}

	offer, err := s.media.CreateOffer()
	if err != nil {
		log.Error().Str("service", "session").Str("senderID", s.id).Err(err).Msg("create offer failed")
		telemetry.OperationFailed("negotiation", "create_offer")
		_ = s.transition(Ready)
		return
	}

	s.pendingOfferSdp = offer
	if err := s.transition(OfferSent); err != nil {
		return
	}

	s.flushOffer()
}

// MarkSenderReady records that the sender has started sharing and can take
// an offer. A pending offer is sent right away.
func (s *PeerSession) MarkSenderReady() {
	if s.state == Closed {
		return
	}
	s.senderReady = true
	s.flushOffer()
}

func (s *PeerSession) flushOffer() {
	if s.pendingOfferSdp == "" || !s.senderReady || s.state != OfferSent {
		return
	}

	msg, err := signaling.NewSignal(signaling.SignalOffer, s.id, signaling.SDPPayload{
		Type: signaling.SignalOffer,
		SDP:  s.pendingOfferSdp,
	})
	if err == nil {
		err = s.emitter.Emit(signaling.EventSignal, msg)
	}
	if err != nil {
		log.Warn().Str("service", "session").Str("senderID", s.id).Err(err).Msg("offer not sent, kept pending")
		return
	}

	log.Debug().Str("service", "session").Str("senderID", s.id).Msg("offer sent")
	s.pendingOfferSdp = ""
	s.offerDelivered = true

	candidates := s.localCandidates
	s.localCandidates = nil
	for _, c := range candidates {
		s.sendCandidate(c)
	}
}

// ApplyRemoteAnswer completes the negotiation. A malformed answer returns
// *InvalidSdpError and leaves the session in OfferSent.
func (s *PeerSession) ApplyRemoteAnswer(raw string) error {
	if s.state == Closed {
		return nil
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		telemetry.OperationFailed("negotiation", "invalid_sdp")
		return &InvalidSdpError{SenderID: s.id, Err: err}
	}
	if len(desc.MediaDescriptions) == 0 {
		telemetry.OperationFailed("negotiation", "invalid_sdp")
		return &InvalidSdpError{SenderID: s.id, Err: ErrNoMedia}
	}

	if !s.state.CanTransitionTo(Stable) {
		return s.transition(Stable)
	}

	if err := s.media.SetRemoteAnswer(raw); err != nil {
		telemetry.OperationFailed("negotiation", "set_remote_description")
		return fmt.Errorf("set remote answer for sender %s: %w", s.id, err)
	}

	telemetry.OperationSucceeded("negotiation")

	return s.transition(Stable)
}

// AddRemoteCandidate hands a remote candidate to the media layer in any state.
// Candidates that cannot be used are dropped.
func (s *PeerSession) AddRemoteCandidate(sdpMLineIndex *uint16, sdpMid *string, candidate string) {
	if s.state == Closed {
		return
	}
	if candidate == "" {
		log.Debug().Str("service", "session").Str("senderID", s.id).Msg("empty remote candidate dropped")
		return
	}

	if err := s.media.AddICECandidate(candidate, sdpMid, sdpMLineIndex); err != nil {
		log.Warn().Str("service", "session").Str("senderID", s.id).Err(err).Msg("remote candidate dropped")
	}
}

func (s *PeerSession) handleLocalCandidate(c LocalCandidate) {
	if s.state == Closed {
		return
	}
	if !s.offerDelivered {
		s.localCandidates = append(s.localCandidates, c)
		return
	}
	s.sendCandidate(c)
}

func (s *PeerSession) sendCandidate(c LocalCandidate) {
	mid := c.SDPMid
	index := c.SDPMLineIndex

	msg, err := signaling.NewSignal(signaling.SignalCandidate, s.id, signaling.CandidatePayload{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
	if err == nil {
		err = s.emitter.Emit(signaling.EventSignal, msg)
	}
	if err != nil {
		log.Warn().Str("service", "session").Str("senderID", s.id).Err(err).Msg("local candidate not sent")
	}
}

// Pause stops playback only. The share flag is left alone so a paused sender
// that is still sharing stays eligible for switching.
func (s *PeerSession) Pause() {
	if s.state == Closed {
		return
	}
	s.media.Pause()
}

func (s *PeerSession) Resume() {
	if s.state == Closed {
		return
	}
	s.media.Resume()
}

func (s *PeerSession) BindDisplay(handle display.Handle) {
	if s.state == Closed {
		return
	}
	s.media.BindDisplay(handle)
}

func (s *PeerSession) handleFirstFrame() {
	if s.state == Closed {
		return
	}
	if s.onFirstFrame != nil {
		s.onFirstFrame(s.id)
	}
}

func (s *PeerSession) handleICEState(state ICEState) {
	if s.state == Closed {
		return
	}

	log.Debug().Str("service", "session").Str("senderID", s.id).Str("ice", state.String()).Msg("ice state changed")
	s.ice = state

	switch {
	case state.Down():
		s.armGrace()
	case state.Up():
		if s.downReported {
			log.Info().Str("service", "session").Str("senderID", s.id).Msg("ice recovered")
		}
		s.stopGrace()
		s.downReported = false
		telemetry.OperationSucceeded("ice_connection")
	}
}

func (s *PeerSession) armGrace() {
	if s.graceTimer != nil {
		return
	}

	s.graceGen++
	gen := s.graceGen
	s.graceTimer = time.AfterFunc(s.grace, func() {
		s.exec.Post(func() { s.checkDown(gen) })
	})
}

func (s *PeerSession) stopGrace() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.graceGen++
}

func (s *PeerSession) checkDown(gen int) {
	if s.state == Closed || gen != s.graceGen {
		return
	}
	s.graceTimer = nil

	if !s.ice.Down() || s.downReported {
		return
	}
	s.downReported = true

	telemetry.OperationFailed("ice_connection", "state_"+s.ice.String())
	log.Warn().Str("service", "session").Str("senderID", s.id).Str("ice", s.ice.String()).Msg("ice down past grace period")

	if s.onDown != nil {
		s.onDown(s.id, "ice-"+s.ice.String())
	}
}

// Stop releases the media. Every later call on the session is a no-op.
func (s *PeerSession) Stop() {
	if s.state == Closed {
		return
	}

	s.stopGrace()
	_ = s.transition(Closed)
	s.pendingOfferSdp = ""
	s.localCandidates = nil
	s.media.Stop()

	telemetry.SessionStopped()
	telemetry.SenderGone(s.id)
}
