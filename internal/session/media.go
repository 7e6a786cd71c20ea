package session

import (
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
)

// MediaSink is the playback side of a sender's stream.
type MediaSink interface {
	Start() error
	Stop()
	Pause()
	Resume()
	BindDisplay(handle display.Handle)
	IsPlaying() bool
}

// PeerConnection is the negotiation side of a sender's stream.
type PeerConnection interface {
	AddRecvOnlyTransceiver() error
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (string, error)
	SetRemoteAnswer(sdp string) error
	AddICECandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) error
}

type Media interface {
	MediaSink
	PeerConnection
}

type LocalCandidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// MediaEvents are invoked by the media layer from its own goroutines.
type MediaEvents struct {
	OnPlaying        func()
	OnFirstFrame     func()
	OnICEState       func(state ICEState)
	OnLocalCandidate func(candidate LocalCandidate)
}

type MediaFactory func(senderID string, events MediaEvents) (Media, error)

// Emitter sends an event through the signaling channel.
type Emitter interface {
	Emit(event string, payload interface{}) error
}
