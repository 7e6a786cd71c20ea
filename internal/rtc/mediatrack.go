package rtc

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/telemetry"
)

// RTPReader is satisfied by *webrtc.TrackRemote.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// ReceiveStats is a snapshot of what a track delivered.
type ReceiveStats struct {
	Packets     uint64
	Bytes       uint64
	BitrateKbps float64
	LastSeq     uint16
}

// MediaTrack drains one remote track, counting every packet before handing it
// to onPacket.
type MediaTrack struct {
	senderID string
	kind     webrtc.RTPCodecType

	lock        sync.Mutex
	stats       ReceiveStats
	windowBytes uint64
	windowStart time.Time

	onPacket func(pkt *rtp.Packet)
	closed   chan struct{}
	once     sync.Once
}

func NewMediaTrack(senderID string, kind webrtc.RTPCodecType, onPacket func(pkt *rtp.Packet)) *MediaTrack {
	return &MediaTrack{
		senderID:    senderID,
		kind:        kind,
		onPacket:    onPacket,
		windowStart: time.Now(),
		closed:      make(chan struct{}),
	}
}

func (t *MediaTrack) ReadLoop(track RTPReader) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Str("service", "mediatrack").Str("senderID", t.senderID).Str("kind", t.kind.String()).Err(err).Msg("read loop stopped")
			}
			t.Close()
			return
		}

		t.account(pkt)
		if t.onPacket != nil {
			t.onPacket(pkt)
		}
	}
}

func (t *MediaTrack) account(pkt *rtp.Packet) {
	size := pkt.MarshalSize()

	t.lock.Lock()
	t.stats.Packets++
	t.stats.Bytes += uint64(size)
	t.stats.LastSeq = pkt.SequenceNumber
	t.windowBytes += uint64(size)
	t.lock.Unlock()

	telemetry.BytesReceived(t.senderID, size)
}

// Sample closes the current bitrate window and returns the stats.
func (t *MediaTrack) Sample(now time.Time) ReceiveStats {
	t.lock.Lock()
	defer t.lock.Unlock()

	if elapsed := now.Sub(t.windowStart).Seconds(); elapsed > 0 {
		t.stats.BitrateKbps = float64(t.windowBytes*8) / elapsed / 1000
	}
	t.windowBytes = 0
	t.windowStart = now

	return t.stats
}

func (t *MediaTrack) Done() <-chan struct{} {
	return t.closed
}

func (t *MediaTrack) Close() {
	t.once.Do(func() {
		close(t.closed)
	})
}
