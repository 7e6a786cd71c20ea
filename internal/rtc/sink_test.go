package rtc

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/session"
)

func testTransportParams(t *testing.T) TransportParams {
	conf := config.NewConfig()
	conf.RTC.StunServers = nil
	conf.RTC.ICEPortRangeStart = 0
	conf.RTC.ICEPortRangeEnd = 0

	rtcConf, err := config.NewWebRTCConfig(conf)
	require.NoError(t, err)

	return TransportParams{EnabledCodecs: conf.Peer.EnabledCodecs, Config: rtcConf}
}

func TestIsCodecEnabled(t *testing.T) {
	h264 := videoCodecs[0].RTPCodecCapability

	assert.True(t, isCodecEnabled([]config.CodecSpec{{Mime: "video/h264"}}, h264))
	assert.True(t, isCodecEnabled([]config.CodecSpec{{Mime: webrtc.MimeTypeH264, FmtpLine: h264.SDPFmtpLine}}, h264))
	assert.False(t, isCodecEnabled([]config.CodecSpec{{Mime: webrtc.MimeTypeH264, FmtpLine: "profile-level-id=640032"}}, h264))
	assert.False(t, isCodecEnabled([]config.CodecSpec{{Mime: webrtc.MimeTypeVP8}}, h264))
}

func TestMapICEState(t *testing.T) {
	assert.Equal(t, session.ICEConnected, mapICEState(webrtc.ICEConnectionStateConnected))
	assert.Equal(t, session.ICEDisconnected, mapICEState(webrtc.ICEConnectionStateDisconnected))
	assert.Equal(t, session.ICEFailed, mapICEState(webrtc.ICEConnectionStateFailed))
	assert.Equal(t, session.ICENew, mapICEState(webrtc.ICEConnectionStateNew))
}

func TestSink_OfferIsRecvOnlyVideo(t *testing.T) {
	playing := make(chan struct{}, 1)
	sink, err := NewSink("A", session.MediaEvents{
		OnPlaying: func() { playing <- struct{}{} },
	}, testTransportParams(t), time.Second)
	require.NoError(t, err)
	defer sink.Stop()

	require.NoError(t, sink.Start())
	select {
	case <-playing:
	case <-time.After(time.Second):
		t.Fatal("playing was not reported")
	}
	assert.True(t, sink.IsPlaying())

	require.NoError(t, sink.AddRecvOnlyTransceiver())
	offer, err := sink.CreateOffer()
	require.NoError(t, err)

	assert.True(t, strings.Contains(offer, "m=video"))
	assert.True(t, strings.Contains(offer, "a=recvonly"))
	assert.False(t, strings.Contains(offer, "m=audio"))
}

func TestSink_CandidatesWaitForAnswer(t *testing.T) {
	sink, err := NewSink("A", session.MediaEvents{}, testTransportParams(t), time.Second)
	require.NoError(t, err)
	defer sink.Stop()

	index := uint16(0)
	err = sink.AddICECandidate("candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host", nil, &index)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.transport.PendingCandidates())

	assert.Error(t, sink.SetRemoteAnswer("not an sdp"))
}

func TestSink_PauseResume(t *testing.T) {
	sink, err := NewSink("A", session.MediaEvents{}, testTransportParams(t), time.Second)
	require.NoError(t, err)

	require.NoError(t, sink.Start())
	sink.Pause()
	assert.False(t, sink.IsPlaying())
	sink.Resume()
	assert.True(t, sink.IsPlaying())

	sink.BindDisplay(3)
	assert.EqualValues(t, 3, sink.Handle())

	sink.Stop()
	sink.Stop()
	assert.False(t, sink.IsPlaying())
	assert.ErrorIs(t, sink.Start(), ErrSinkStopped)
}

func TestSink_FirstFrameAfterResume(t *testing.T) {
	frames := 0
	sink, err := NewSink("A", session.MediaEvents{
		OnFirstFrame: func() { frames++ },
	}, testTransportParams(t), time.Second)
	require.NoError(t, err)
	defer sink.Stop()

	require.NoError(t, sink.Start())

	sink.onPacket(&rtp.Packet{})
	sink.onPacket(&rtp.Packet{})
	assert.Equal(t, 1, frames)

	sink.Pause()
	sink.onPacket(&rtp.Packet{})
	assert.Equal(t, 1, frames)

	sink.Resume()
	sink.onPacket(&rtp.Packet{})
	assert.Equal(t, 2, frames)
}

type MockRTPReader struct {
	packets []*rtp.Packet
}

func (r *MockRTPReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.packets) == 0 {
		return nil, nil, io.EOF
	}
	pkt := r.packets[0]
	r.packets = r.packets[1:]
	return pkt, nil, nil
}

func TestMediaTrack_ReadLoopAccounts(t *testing.T) {
	reader := &MockRTPReader{packets: []*rtp.Packet{
		{Header: rtp.Header{Version: 2, SequenceNumber: 1}, Payload: make([]byte, 100)},
		{Header: rtp.Header{Version: 2, SequenceNumber: 2}, Payload: make([]byte, 100)},
	}}

	seen := 0
	start := time.Now()
	mt := NewMediaTrack("track-test", webrtc.RTPCodecTypeVideo, func(*rtp.Packet) { seen++ })
	mt.ReadLoop(reader)

	<-mt.Done()
	assert.Equal(t, 2, seen)

	stats := mt.Sample(start.Add(time.Second))
	assert.EqualValues(t, 2, stats.Packets)
	assert.EqualValues(t, 224, stats.Bytes)
	assert.EqualValues(t, 2, stats.LastSeq)
	assert.InDelta(t, 1.792, stats.BitrateKbps, 0.3)
}
