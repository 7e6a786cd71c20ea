package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/display"
	"github.com/Jeong-dawon/MultiFlexer/internal/eventbus"
	"github.com/Jeong-dawon/MultiFlexer/internal/layout"
	"github.com/Jeong-dawon/MultiFlexer/internal/loop"
	"github.com/Jeong-dawon/MultiFlexer/internal/registry"
	"github.com/Jeong-dawon/MultiFlexer/internal/session"
	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
)

type emitted struct {
	event   string
	payload interface{}
}

type MockChannel struct {
	lock         sync.Mutex
	handlers     map[string]signaling.Handler
	emitted      []emitted
	joins        []signaling.JoinRoom
	disconnected bool
}

func NewMockChannel() *MockChannel {
	return &MockChannel{handlers: make(map[string]signaling.Handler)}
}

func (c *MockChannel) Connect(context.Context, string) error {
	c.fire(signaling.EventConnect, "")
	return nil
}

func (c *MockChannel) JoinRoom(_ context.Context, req signaling.JoinRoom) (signaling.JoinAck, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.joins = append(c.joins, req)
	return signaling.JoinAck{Success: true, Name: req.Name}, nil
}

func (c *MockChannel) Emit(event string, payload interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.emitted = append(c.emitted, emitted{event: event, payload: payload})
	return nil
}

func (c *MockChannel) On(event string, handler signaling.Handler) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handlers[event] = handler
}

func (c *MockChannel) Disconnect() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.disconnected = true
}

func (c *MockChannel) fire(event, data string) {
	c.lock.Lock()
	h := c.handlers[event]
	c.lock.Unlock()

	if h != nil {
		h(json.RawMessage(data))
	}
}

func (c *MockChannel) events(name string) []interface{} {
	c.lock.Lock()
	defer c.lock.Unlock()

	var payloads []interface{}
	for _, e := range c.emitted {
		if e.event == name {
			payloads = append(payloads, e.payload)
		}
	}
	return payloads
}

func (c *MockChannel) joinCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.joins)
}

type MockMedia struct {
	lock    sync.Mutex
	playing bool
	stopped bool
}

func (m *MockMedia) Start() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.playing = true
	return nil
}

func (m *MockMedia) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.stopped = true
	m.playing = false
}

func (m *MockMedia) Pause() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.playing = false
}

func (m *MockMedia) Resume() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.playing = true
}

func (m *MockMedia) IsPlaying() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.playing
}

func (m *MockMedia) isStopped() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stopped
}

func (m *MockMedia) BindDisplay(display.Handle)                     {}
func (m *MockMedia) AddRecvOnlyTransceiver() error                  { return nil }
func (m *MockMedia) CreateOffer() (string, error)                   { return "offer", nil }
func (m *MockMedia) SetRemoteAnswer(string) error                   { return nil }
func (m *MockMedia) AddICECandidate(string, *string, *uint16) error { return nil }

type MockFactory struct {
	lock  sync.Mutex
	media map[string]*MockMedia
}

func (f *MockFactory) Build(senderID string, _ session.MediaEvents) (session.Media, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	m := &MockMedia{}
	f.media[senderID] = m
	return m, nil
}

func (f *MockFactory) get(senderID string) *MockMedia {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.media[senderID]
}

type MockPublisher struct {
	rosters chan *eventbus.RosterMessage
	closed  chan struct{}
}

func (p *MockPublisher) PublishRoster(_ context.Context, msg *eventbus.RosterMessage) error {
	p.rosters <- msg
	return nil
}

func (p *MockPublisher) Close() error {
	close(p.closed)
	return nil
}

type MockHistory struct {
	lock    sync.Mutex
	events  []core.SenderEvent
	offline []string
}

func (h *MockHistory) Record(event *core.SenderEvent) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.events = append(h.events, *event)
	return nil
}

func (h *MockHistory) FindBySenderID(string, core.SenderID) ([]*core.SenderEvent, error) {
	return nil, nil
}

func (h *MockHistory) MarkOffline(room string) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.offline = append(h.offline, room)
	return nil
}

func (h *MockHistory) recorded() []core.SenderEvent {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]core.SenderEvent(nil), h.events...)
}

type fixture struct {
	room      *Room
	channel   *MockChannel
	factory   *MockFactory
	publisher *MockPublisher
	history   *MockHistory
	board     *display.Board
}

func newFixture(t *testing.T) *fixture {
	conf := config.NewConfig()
	conf.Receiver.Name = "hall"
	conf.Signaling.RoomName = "main"

	f := &fixture{
		channel:   NewMockChannel(),
		factory:   &MockFactory{media: make(map[string]*MockMedia)},
		publisher: &MockPublisher{rosters: make(chan *eventbus.RosterMessage, 32), closed: make(chan struct{})},
		history:   &MockHistory{},
		board:     display.NewBoard(),
	}

	r, err := New(Options{
		Config:   conf,
		Channel:  f.channel,
		Factory:  f.factory.Build,
		Display:  f.board,
		Notifier: f.publisher,
		History:  f.history,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	f.room = r
	return f
}

func (f *fixture) senders(t *testing.T) []core.SenderInfo {
	senders, err := f.room.Senders(context.Background())
	require.NoError(t, err)
	return senders
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	conf := config.NewConfig()
	conf.Registry.PlayPolicy = "random"

	_, err := New(Options{Config: conf, Channel: NewMockChannel(), Factory: (&MockFactory{}).Build})
	assert.Error(t, err)
}

func TestRoomIgnoresEventsUntilConnected(t *testing.T) {
	f := newFixture(t)

	f.channel.fire(signaling.EventSenderList, `[{"id":"A","name":"alice"}]`)
	assert.Empty(t, f.senders(t))

	f.channel.fire(signaling.EventConnect, "")
	f.channel.fire(signaling.EventSenderList, `[{"id":"A","name":"alice"}]`)

	assert.Equal(t, []core.SenderInfo{{ID: "A", Name: "alice", Active: true}}, f.senders(t))
	assert.Equal(t, []interface{}{signaling.ShareRequest{To: "A"}}, f.channel.events(signaling.EventShareRequest))
}

func TestRoomDisconnectStopsHandling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.channel.fire(signaling.EventConnect, "")
	f.channel.fire(signaling.EventSenderList, `[{"id":"A"}]`)
	f.channel.fire(signaling.EventDisconnect, "")
	f.channel.fire(signaling.EventSenderList, `[{"id":"B"}]`)

	state, err := f.room.State(ctx)
	require.NoError(t, err)
	assert.False(t, state.Connected)
	require.Len(t, state.Senders, 1)
	assert.Equal(t, core.SenderID("A"), state.Senders[0].ID)

	// sessions survive a signaling drop
	assert.False(t, f.factory.get("A").isStopped())
}

func TestRoomSurvivesHandlerErrors(t *testing.T) {
	f := newFixture(t)

	f.channel.fire(signaling.EventConnect, "")
	f.channel.fire(signaling.EventShareStopped, `{"id":"ghost"}`)
	f.channel.fire(signaling.EventSignal, `not json`)
	f.channel.fire(signaling.EventRemoveSender, `{}`)
	f.channel.fire(signaling.EventSenderList, `[{"id":"A"}]`)

	assert.Len(t, f.senders(t), 1)
}

func TestRoomRunJoinsAndCloseLeaves(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.room.Run(ctx) }()

	require.Eventually(t, func() bool { return f.channel.joinCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, signaling.JoinRoom{Role: signaling.RoleReceiver, Name: "hall", Room: "main"}, f.channel.joins[0])

	f.channel.fire(signaling.EventSenderList, `[{"id":"A"}]`)
	require.Len(t, f.senders(t), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}

	assert.Equal(t, []interface{}{signaling.DelRoom{Role: signaling.RoleReceiver}}, f.channel.events(signaling.EventDelRoom))
	assert.True(t, f.factory.get("A").isStopped())
	assert.True(t, f.channel.disconnected)
	assert.Equal(t, []string{"main"}, f.history.offline)

	select {
	case <-f.publisher.closed:
	default:
		t.Fatal("notifier not closed")
	}

	_, err := f.room.Senders(context.Background())
	assert.ErrorIs(t, err, loop.ErrStopped)
}

func TestRoomPublishesRosterAndHistory(t *testing.T) {
	f := newFixture(t)

	f.channel.fire(signaling.EventConnect, "")
	f.channel.fire(signaling.EventSenderList, `[{"id":"A","name":"alice"}]`)
	f.channel.fire(signaling.EventShareStarted, `{"senderId":"A"}`)

	var last *eventbus.RosterMessage
	for i := 0; i < 2; i++ {
		select {
		case last = <-f.publisher.rosters:
		case <-time.After(time.Second):
			t.Fatal("roster not published")
		}
	}
	assert.Equal(t, "main", last.Room)
	assert.Equal(t, []core.SenderInfo{{ID: "A", Name: "alice", Active: true}}, last.Senders)

	require.Eventually(t, func() bool { return len(f.history.recorded()) == 2 }, time.Second, 5*time.Millisecond)
	events := f.history.recorded()
	assert.Equal(t, core.SenderJoined, events[0].Kind)
	assert.Equal(t, core.SenderShareStarted, events[1].Kind)
	assert.Equal(t, "main", events[1].Room)
}

func TestRoomCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.channel.fire(signaling.EventConnect, "")
	f.channel.fire(signaling.EventSenderList, `[{"id":"A"},{"id":"B"}]`)
	f.channel.fire(signaling.EventShareStarted, `"A"`)
	f.channel.fire(signaling.EventShareStarted, `"B"`)

	require.NoError(t, f.room.SetMode(ctx, 2))
	require.NoError(t, f.room.PickSender(ctx, "B"))
	assert.ErrorIs(t, f.room.SetFocus(ctx, 5), layout.ErrFocusOutOfRange)
	require.NoError(t, f.room.SetFocus(ctx, 1))
	require.NoError(t, f.room.AssignCell(ctx, 1, "A"))
	assert.ErrorIs(t, f.room.AssignCell(ctx, 0, "ghost"), registry.ErrUnknownSender)
	assert.ErrorIs(t, f.room.SetMode(ctx, 9), layout.ErrInvalidMode)

	state, err := f.room.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Connected)
	assert.Equal(t, 2, state.Mode)
	assert.Equal(t, 1, state.Focus)
	assert.Equal(t, []core.SenderID{"B", "A"}, state.Cells)
	assert.Equal(t, layout.Geometry(2), state.Geometry)
	assert.Equal(t, []string{"B", "A"}, f.board.Snapshot().Placed)

	switched, err := f.room.Switch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, switched)

	state, err = f.room.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SenderID("B"), state.Active)
}
