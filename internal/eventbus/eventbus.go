// Package eventbus broadcasts the sender roster to administrators over NATS
// or Redis pub/sub.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

// RosterMessage is the payload of every roster broadcast and reply.
type RosterMessage struct {
	Room    string            `json:"room"`
	Senders []core.SenderInfo `json:"senders"`
	SentAt  time.Time         `json:"sent_at"`
}

func NewRosterMessage(room string, senders []core.SenderInfo) *RosterMessage {
	if senders == nil {
		senders = []core.SenderInfo{}
	}
	return &RosterMessage{Room: room, Senders: senders, SentAt: time.Now().UTC()}
}

func (m *RosterMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RosterFromJSON(data []byte) (*RosterMessage, error) {
	m := &RosterMessage{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return m, nil
}

// Publisher sends the roster after every change. PublishRoster may block on
// the network and must not be called from the serialized loop.
type Publisher interface {
	PublishRoster(ctx context.Context, msg *RosterMessage) error
	Close() error
}

// Nop drops every roster.
type Nop struct{}

func (Nop) PublishRoster(context.Context, *RosterMessage) error { return nil }
func (Nop) Close() error                                        { return nil }

// New connects the backend selected by the configuration.
func New(conf *config.Config) (Publisher, error) {
	switch conf.Notifier.Backend {
	case "", config.NotifierNone:
		return Nop{}, nil
	case config.NotifierNATS:
		return ConnectNATS(conf.Notifier.NATSURL)
	case config.NotifierRedis:
		return ConnectRedis(context.Background(), conf.Notifier.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown notifier backend %q", conf.Notifier.Backend)
	}
}
