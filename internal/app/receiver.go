package app

import (
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	// postgres driver for the sender history
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/Jeong-dawon/MultiFlexer/internal/api"
	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/eventbus"
	"github.com/Jeong-dawon/MultiFlexer/internal/room"
	"github.com/Jeong-dawon/MultiFlexer/internal/rtc"
	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
)

type ReceiverAppOptions struct {
	Env    core.Environment
	Config *config.Config
}

// ReceiverApp is the screen share receiver with its control API.
type ReceiverApp struct {
	ReceiverAppOptions
}

func NewReceiver(options ReceiverAppOptions) *ReceiverApp {
	return &ReceiverApp{options}
}

func (app *ReceiverApp) Start() error {
	InitLogger(app.Env)
	conf := app.Config

	if err := conf.Validate(); err != nil {
		return err
	}

	rtcConf, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return err
	}

	notifier, err := eventbus.New(conf)
	if err != nil {
		return err
	}

	db, err := openHistory(conf.History.DSN)
	if err != nil {
		_ = notifier.Close()
		return err
	}
	var history core.SendersHistoryStorer
	if db != nil {
		defer db.Close()
		history = core.NewSendersRepository(db)
	}

	client := signaling.NewClient(signaling.ClientOptions{
		JoinTimeout:  conf.Signaling.JoinTimeout,
		MaxReconnect: conf.Signaling.MaxReconnect,
	})

	rm, err := room.New(room.Options{
		Config:   conf,
		Channel:  client,
		Factory:  rtc.NewSinkFactory(conf, rtcConf),
		Notifier: notifier,
		History:  history,
	})
	if err != nil {
		_ = notifier.Close()
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	control := api.NewApp(api.AppOptions{
		Controller: rm,
		History:    history,
		Room:       conf.Signaling.RoomName,
	})
	stopped := serve(ctx, newServer(conf.Control.Address, control.Router()), cancel)

	log.Info().
		Str("room", conf.Signaling.RoomName).
		Str("signaling", conf.Signaling.URL).
		Str("control", conf.Control.Address).
		Str("policy", conf.Registry.PlayPolicy).
		Msg("receiver started")

	err = rm.Run(ctx)
	cancel()
	<-stopped

	log.Info().Msg("receiver stopped")

	return err
}

// openHistory returns nil when no DSN is configured.
func openHistory(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, nil
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
