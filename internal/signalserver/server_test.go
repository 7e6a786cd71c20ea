package signalserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
)

type peerClient struct {
	client *signaling.Client
	events map[string]chan json.RawMessage
}

func startServer(t *testing.T) string {
	srv := New()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connect(t *testing.T, url string) *peerClient {
	p := &peerClient{
		client: signaling.NewClient(signaling.ClientOptions{JoinTimeout: 2 * time.Second}),
		events: make(map[string]chan json.RawMessage),
	}
	for _, event := range []string{
		signaling.EventSenderList,
		signaling.EventShareStarted,
		signaling.EventShareStopped,
		signaling.EventSignal,
		signaling.EventSenderDisconnected,
		signaling.EventRoomDeleted,
		signaling.EventShareRequest,
		signaling.EventJoinedRoom,
	} {
		ch := make(chan json.RawMessage, 16)
		p.events[event] = ch
		p.client.On(event, func(data json.RawMessage) { ch <- data })
	}

	require.NoError(t, p.client.Connect(context.Background(), url))
	t.Cleanup(p.client.Disconnect)

	return p
}

func (p *peerClient) join(role, name string) (signaling.JoinAck, error) {
	return p.client.JoinRoom(context.Background(), signaling.JoinRoom{Role: role, Name: name, Room: "main"})
}

func (p *peerClient) next(t *testing.T, event string, v interface{}) {
	t.Helper()

	select {
	case data := <-p.events[event]:
		if v != nil {
			require.NoError(t, json.Unmarshal(data, v))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s received", event)
	}
}

func (p *peerClient) none(t *testing.T, event string) {
	t.Helper()

	select {
	case data := <-p.events[event]:
		t.Fatalf("unexpected %s: %s", event, data)
	case <-time.After(100 * time.Millisecond):
	}
}

// joinedPair returns a receiver and a sender named alice, and the sender id.
func joinedPair(t *testing.T, url string) (*peerClient, *peerClient, string) {
	receiver := connect(t, url)
	_, err := receiver.join(signaling.RoleReceiver, "hall")
	require.NoError(t, err)

	var list []signaling.SenderEntry
	receiver.next(t, signaling.EventSenderList, &list)
	assert.Empty(t, list)

	sender := connect(t, url)
	ack, err := sender.join(signaling.RoleSender, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", ack.Name)

	receiver.next(t, signaling.EventSenderList, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Name)

	return receiver, sender, list[0].ID
}

func TestSenderJoinNeedsReceiver(t *testing.T) {
	url := startServer(t)

	sender := connect(t, url)
	_, err := sender.join(signaling.RoleSender, "alice")

	assert.ErrorIs(t, err, signaling.ErrJoinRejected)
}

func TestJoinAndDuplicateNames(t *testing.T) {
	url := startServer(t)
	_, sender, _ := joinedPair(t, url)

	var joined map[string]string
	sender.next(t, signaling.EventJoinedRoom, &joined)
	assert.Equal(t, "alice", joined["name"])

	other := connect(t, url)
	_, err := other.join(signaling.RoleSender, "alice")
	assert.ErrorIs(t, err, signaling.ErrJoinRejected)

	ack, err := other.join(signaling.RoleSender, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ack.Name, "Sender-"))
}

func TestShareFlow(t *testing.T) {
	url := startServer(t)
	receiver, sender, senderID := joinedPair(t, url)

	require.NoError(t, receiver.client.Emit(signaling.EventShareRequest, signaling.ShareRequest{To: senderID}))
	var req signaling.ShareRequest
	sender.next(t, signaling.EventShareRequest, &req)
	assert.NotEmpty(t, req.From)

	require.NoError(t, sender.client.Emit(signaling.EventSenderShareStarted, map[string]string{"name": "ignored"}))
	var started signaling.SenderEntry
	receiver.next(t, signaling.EventShareStarted, &started)
	assert.Equal(t, signaling.SenderEntry{ID: senderID, Name: "alice"}, started)

	require.NoError(t, sender.client.Emit(signaling.EventShareStopped, nil))
	var stopped signaling.SenderEntry
	receiver.next(t, signaling.EventShareStopped, &stopped)
	assert.Equal(t, senderID, stopped.ID)
}

func TestSignalRelay(t *testing.T) {
	url := startServer(t)
	receiver, sender, senderID := joinedPair(t, url)

	offer, err := signaling.NewSignal(signaling.SignalOffer, senderID, signaling.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, receiver.client.Emit(signaling.EventSignal, offer))

	var got signaling.Signal
	sender.next(t, signaling.EventSignal, &got)
	assert.Equal(t, signaling.SignalOffer, got.Type)
	assert.NotEmpty(t, got.From)
	receiverID := got.From

	// the relay stamps the origin, whatever the sender claims
	answer := signaling.Signal{Type: signaling.SignalAnswer, From: "forged", Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}
	require.NoError(t, sender.client.Emit(signaling.EventSignal, answer))

	receiver.next(t, signaling.EventSignal, &got)
	assert.Equal(t, senderID, got.From)
	assert.Equal(t, receiverID, got.To)
	assert.Equal(t, signaling.SignalAnswer, got.Type)

	stray := signaling.Signal{Type: signaling.SignalOffer, To: "nobody"}
	require.NoError(t, receiver.client.Emit(signaling.EventSignal, stray))
	sender.none(t, signaling.EventSignal)
}

func TestSenderDisconnect(t *testing.T) {
	url := startServer(t)
	receiver, sender, senderID := joinedPair(t, url)

	sender.client.Disconnect()

	var gone signaling.SenderEntry
	receiver.next(t, signaling.EventSenderDisconnected, &gone)
	assert.Equal(t, senderID, gone.ID)

	var list []signaling.SenderEntry
	receiver.next(t, signaling.EventSenderList, &list)
	assert.Empty(t, list)
}

func TestReceiverLeavingDeletesRoom(t *testing.T) {
	url := startServer(t)
	receiver, sender, _ := joinedPair(t, url)

	require.NoError(t, receiver.client.Emit(signaling.EventDelRoom, signaling.DelRoom{Role: signaling.RoleReceiver}))
	sender.next(t, signaling.EventRoomDeleted, nil)

	other := connect(t, url)
	_, err := other.join(signaling.RoleSender, "bob")
	assert.ErrorIs(t, err, signaling.ErrJoinRejected)
}

func TestReceiverDisconnectDeletesRoom(t *testing.T) {
	url := startServer(t)
	receiver, sender, _ := joinedPair(t, url)

	receiver.client.Disconnect()
	sender.next(t, signaling.EventRoomDeleted, nil)
}
