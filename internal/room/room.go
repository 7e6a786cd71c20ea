// Package room runs one receiver: it binds the signaling channel to the
// registry and the layout through the serialized loop, and exposes the
// commands used by the control API.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

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

const (
	outboxSize      = 64
	publishTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	Config   *config.Config
	Channel  signaling.Channel
	Factory  session.MediaFactory
	Display  display.Display
	Notifier eventbus.Publisher
	// History is optional.
	History core.SendersHistoryStorer
}

type Room struct {
	conf     *config.Config
	channel  signaling.Channel
	display  display.Display
	notifier eventbus.Publisher
	history  core.SendersHistoryStorer

	queue    *loop.Queue
	registry *registry.Registry
	layout   *layout.Controller

	// owned by the loop
	connected bool

	outboxLock   sync.Mutex
	outboxClosed bool
	outbox       chan func()
	outboxDone   chan struct{}

	closeOnce sync.Once
}

func New(opts Options) (*Room, error) {
	if opts.Config == nil {
		opts.Config = config.NewConfig()
	}
	if opts.Channel == nil {
		return nil, errors.New("room: signaling channel is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("room: media factory is required")
	}
	if opts.Display == nil {
		opts.Display = display.NewBoard()
	}
	if opts.Notifier == nil {
		opts.Notifier = eventbus.Nop{}
	}

	policy, err := registry.ParsePlayPolicy(opts.Config.Registry.PlayPolicy)
	if err != nil {
		return nil, err
	}

	r := &Room{
		conf:       opts.Config,
		channel:    opts.Channel,
		display:    opts.Display,
		notifier:   opts.Notifier,
		history:    opts.History,
		queue:      loop.NewQueue(),
		outbox:     make(chan func(), outboxSize),
		outboxDone: make(chan struct{}),
	}

	r.registry = registry.New(registry.Options{
		Emitter:        opts.Channel,
		Display:        opts.Display,
		Factory:        opts.Factory,
		Executor:       r.queue,
		Policy:         policy,
		Observer:       r,
		GracePeriod:    opts.Config.Session.ICEGracePeriod,
		SwitchCooldown: opts.Config.Registry.SwitchCooldown,
	})
	r.layout = layout.NewController(r.registry, opts.Display)

	r.bind()
	go func() {
		if err := r.queue.Run(context.Background()); err != nil {
			log.Error().Str("service", "room").Err(err).Msg("loop stopped")
		}
	}()
	go r.drainOutbox()

	return r, nil
}

func (r *Room) bind() {
	for event := range registry.Handlers {
		event := event
		r.channel.On(event, func(data json.RawMessage) {
			r.queue.Post(func() { r.handle(event, data) })
		})
	}

	r.channel.On(signaling.EventConnect, func(json.RawMessage) {
		r.queue.Post(func() {
			r.connected = true
			log.Info().Str("service", "room").Msg("signaling connected")
		})
	})
	r.channel.On(signaling.EventDisconnect, func(json.RawMessage) {
		r.queue.Post(func() {
			r.connected = false
			log.Warn().Str("service", "room").Msg("signaling lost, sessions keep running")
		})
	})
}

func (r *Room) handle(event string, data json.RawMessage) {
	if !r.connected {
		log.Debug().Str("service", "room").Str("event", event).Msg("event ignored while disconnected")
		return
	}

	if err := r.registry.Dispatch(event, data); err != nil {
		log.Error().Str("service", "room").Str("event", event).Err(err).Msg("event handling failed")
	}
}

// Run connects, joins the room and serves until ctx is cancelled or the room
// is closed. The room is closed when Run returns.
func (r *Room) Run(ctx context.Context) error {
	defer r.Close()

	if err := r.channel.Connect(ctx, r.conf.Signaling.URL); err != nil {
		return err
	}

	ack, err := r.channel.JoinRoom(ctx, signaling.JoinRoom{
		Role: signaling.RoleReceiver,
		Name: r.conf.Receiver.Name,
		Room: r.conf.Signaling.RoomName,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("service", "room").
		Str("room", r.conf.Signaling.RoomName).
		Str("name", ack.Name).
		Msg("joined room as receiver")

	select {
	case <-ctx.Done():
	case <-r.queue.Done():
	}

	return nil
}

// Close announces the receiver's departure and stops every session. It is
// safe to call more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		log.Info().Str("service", "room").Msg("closing room")

		if err := r.channel.Emit(signaling.EventDelRoom, signaling.DelRoom{Role: signaling.RoleReceiver}); err != nil {
			log.Warn().Str("service", "room").Err(err).Msg("del-room not sent")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.queue.Call(ctx, r.registry.Close); err != nil {
			log.Warn().Str("service", "room").Err(err).Msg("sessions not stopped through the loop")
		}
		r.queue.Stop()

		r.channel.Disconnect()

		r.outboxLock.Lock()
		r.outboxClosed = true
		close(r.outbox)
		r.outboxLock.Unlock()
		<-r.outboxDone

		if r.history != nil {
			if err := r.history.MarkOffline(r.conf.Signaling.RoomName); err != nil {
				log.Error().Str("service", "room").Err(err).Msg("cannot close sender history")
			}
		}

		if err := r.notifier.Close(); err != nil {
			log.Warn().Str("service", "room").Err(err).Msg("notifier close failed")
		}
	})
}

// RosterChanged implements registry.Observer.
func (r *Room) RosterChanged(senders []core.SenderInfo) {
	msg := eventbus.NewRosterMessage(r.conf.Signaling.RoomName, senders)

	r.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := r.notifier.PublishRoster(ctx, msg); err != nil {
			log.Error().Str("service", "room").Err(err).Msg("roster not published")
		}
	})
}

// SenderEvent implements registry.Observer.
func (r *Room) SenderEvent(event core.SenderEvent) {
	if r.history == nil {
		return
	}
	event.Room = r.conf.Signaling.RoomName

	r.enqueue(func() {
		if err := r.history.Record(&event); err != nil {
			log.Error().Str("service", "room").Str("senderID", string(event.SenderID)).Err(err).Msg("sender event not recorded")
		}
	})
}

func (r *Room) enqueue(job func()) {
	r.outboxLock.Lock()
	defer r.outboxLock.Unlock()

	if r.outboxClosed {
		return
	}

	select {
	case r.outbox <- job:
	default:
		log.Warn().Str("service", "room").Msg("outbox full, notification dropped")
	}
}

func (r *Room) drainOutbox() {
	defer close(r.outboxDone)

	for job := range r.outbox {
		job()
	}
}
