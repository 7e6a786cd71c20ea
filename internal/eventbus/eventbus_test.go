package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

var testRoster = []core.SenderInfo{
	{ID: "a1", Name: "alice", Active: true},
	{ID: "b2", Name: "bob", Active: false},
}

func runNATSServer(t *testing.T) string {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)

	return s.ClientURL()
}

func TestNATSBus_PublishesUpdates(t *testing.T) {
	url := runNATSServer(t)

	bus, err := ConnectNATS(url)
	require.NoError(t, err)
	defer bus.Close()

	admin, err := nats.Connect(url)
	require.NoError(t, err)
	defer admin.Close()

	updates := make(chan *nats.Msg, 1)
	_, err = admin.ChanSubscribe(ParticipantUpdateSubject, updates)
	require.NoError(t, err)
	require.NoError(t, admin.Flush())

	require.NoError(t, bus.PublishRoster(context.Background(), NewRosterMessage("main", testRoster)))

	select {
	case msg := <-updates:
		roster, err := RosterFromJSON(msg.Data)
		require.NoError(t, err)
		assert.Equal(t, "main", roster.Room)
		assert.Equal(t, testRoster, roster.Senders)
	case <-time.After(2 * time.Second):
		t.Fatal("no roster update received")
	}
}

func TestNATSBus_AnswersRequests(t *testing.T) {
	url := runNATSServer(t)

	bus, err := ConnectNATS(url)
	require.NoError(t, err)
	defer bus.Close()

	admin, err := nats.Connect(url)
	require.NoError(t, err)
	defer admin.Close()

	reply, err := admin.Request(ParticipantRequestSubject, nil, 2*time.Second)
	require.NoError(t, err)
	roster, err := RosterFromJSON(reply.Data)
	require.NoError(t, err)
	assert.Empty(t, roster.Senders)

	require.NoError(t, bus.PublishRoster(context.Background(), NewRosterMessage("main", testRoster)))

	reply, err = admin.Request(ParticipantRequestSubject, nil, 2*time.Second)
	require.NoError(t, err)
	roster, err = RosterFromJSON(reply.Data)
	require.NoError(t, err)
	assert.Equal(t, testRoster, roster.Senders)
}

type MockRedis struct {
	published map[string][]string
	stored    map[string]string
	ttl       time.Duration
	setErr    error
	closed    bool
}

func NewMockRedis() *MockRedis {
	return &MockRedis{published: make(map[string][]string), stored: make(map[string]string)}
}

func (m *MockRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	m.published[channel] = append(m.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (m *MockRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.setErr != nil {
		return redis.NewStatusResult("", m.setErr)
	}
	m.stored[key] = string(value.([]byte))
	m.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *MockRedis) Close() error {
	m.closed = true
	return nil
}

func TestRedisBus_PublishRoster(t *testing.T) {
	rdb := NewMockRedis()
	bus := NewRedisBus(rdb)

	require.NoError(t, bus.PublishRoster(context.Background(), NewRosterMessage("main", testRoster)))

	require.Len(t, rdb.published[string(ParticipantUpdate)], 1)
	roster, err := RosterFromJSON([]byte(rdb.published[string(ParticipantUpdate)][0]))
	require.NoError(t, err)
	assert.Equal(t, testRoster, roster.Senders)

	assert.Equal(t, rdb.published[string(ParticipantUpdate)][0], rdb.stored["participant:roster:main"])
	assert.Equal(t, rosterTTL, rdb.ttl)

	require.NoError(t, bus.Close())
	assert.True(t, rdb.closed)
}

func TestRedisBus_StoreFailureSkipsPublish(t *testing.T) {
	rdb := NewMockRedis()
	rdb.setErr = errors.New("READONLY")
	bus := NewRedisBus(rdb)

	assert.Error(t, bus.PublishRoster(context.Background(), NewRosterMessage("main", nil)))
	assert.Empty(t, rdb.published)
}

func TestNewRosterMessageNeverNil(t *testing.T) {
	data, err := NewRosterMessage("main", nil).ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"senders":[]`)
}

func TestNewSelectsBackend(t *testing.T) {
	conf := config.NewConfig()

	bus, err := New(conf)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, bus)

	conf.Notifier.Backend = config.NotifierNATS
	conf.Notifier.NATSURL = runNATSServer(t)
	bus, err = New(conf)
	require.NoError(t, err)
	assert.IsType(t, &NATSBus{}, bus)
	require.NoError(t, bus.Close())

	conf.Notifier.Backend = "mqtt"
	_, err = New(conf)
	assert.Error(t, err)
}
