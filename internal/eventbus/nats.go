package eventbus

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	ParticipantUpdateSubject  = "participant.update"
	ParticipantRequestSubject = "participant.request"
)

// NATSBus publishes rosters on participant.update and answers requests on
// participant.request with the last published roster.
type NATSBus struct {
	nc  *nats.Conn
	sub *nats.Subscription

	lock sync.RWMutex
	last []byte
}

func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.Name("multiflexer-receiver"), nats.NoEcho())
	if err != nil {
		return nil, err
	}

	bus, err := NewNATSBus(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func NewNATSBus(nc *nats.Conn) (*NATSBus, error) {
	bus := &NATSBus{nc: nc}

	var err error
	bus.sub, err = nc.Subscribe(ParticipantRequestSubject, bus.reply)
	if err != nil {
		return nil, err
	}

	return bus, nil
}

func (b *NATSBus) PublishRoster(_ context.Context, msg *RosterMessage) error {
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}

	b.lock.Lock()
	b.last = data
	b.lock.Unlock()

	return b.nc.Publish(ParticipantUpdateSubject, data)
}

func (b *NATSBus) reply(msg *nats.Msg) {
	b.lock.RLock()
	data := b.last
	b.lock.RUnlock()

	if data == nil {
		data = []byte(`{"senders":[]}`)
	}

	if err := msg.Respond(data); err != nil {
		log.Error().Err(err).Str("service", "eventbus").Msg("cannot answer roster request")
	}
}

func (b *NATSBus) Close() error {
	log.Info().Str("service", "eventbus").Msg("stop nats notifier")

	if err := b.sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("service", "eventbus").Msg("unsubscribe failed")
	}

	return b.nc.Drain()
}
