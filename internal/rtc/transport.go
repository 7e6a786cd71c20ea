package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 5 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// PCTransport is the receiving peer connection of one sender. Remote
// candidates that arrive before the answer are held until it is applied.
type PCTransport struct {
	pc *webrtc.PeerConnection

	lock              sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
}

type TransportParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
}

func NewPCTransport(params TransportParams) (*PCTransport, error) {
	pc, err := newPeerConnection(params)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{
		pc:                pc,
		pendingCandidates: make([]webrtc.ICECandidateInit, 0),
	}

	return t, nil
}

func newPeerConnection(params TransportParams) (*webrtc.PeerConnection, error) {
	me, ir, err := createMediaEngine(params.EnabledCodecs, params.Config.Subscriber)
	if err != nil {
		return nil, fmt.Errorf("create media engine: %w", err)
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(ir),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

func (t *PCTransport) AddRecvOnlyTransceiver() error {
	_, err := t.pc.AddTransceiverFromKind(
		webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
	)
	return err
}

// CreateOffer creates an offer and installs it as the local description.
func (t *PCTransport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}

	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}

	return offer.SDP, nil
}

func (t *PCTransport) SetRemoteAnswer(sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return err
	}

	t.lock.Lock()
	pending := t.pendingCandidates
	t.pendingCandidates = make([]webrtc.ICECandidateInit, 0)
	t.lock.Unlock()

	for _, candidate := range pending {
		if err := t.pc.AddICECandidate(candidate); err != nil {
			log.Warn().Str("service", "rtc").Err(err).Msg("pending candidate rejected")
		}
	}

	return nil
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if t.pc.RemoteDescription() != nil {
		return t.pc.AddICECandidate(candidate)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.pendingCandidates = append(t.pendingCandidates, candidate)

	return nil
}

func (t *PCTransport) PendingCandidates() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.pendingCandidates)
}

func (t *PCTransport) Close() {
	if err := t.pc.Close(); err != nil {
		log.Warn().Str("service", "rtc").Err(err).Msg("close peer connection")
	}
}
