package app

import (
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/signalserver"
)

type SignalAppOptions struct {
	Env     core.Environment
	Address string
}

// SignalApp is the development signaling relay.
type SignalApp struct {
	SignalAppOptions
}

func NewSignal(options SignalAppOptions) *SignalApp {
	return &SignalApp{options}
}

func (app *SignalApp) Start() error {
	InitLogger(app.Env)

	relay := signalserver.New()

	ctx, cancel := interruptContext()
	defer cancel()

	stopped := serve(ctx, newServer(app.Address, relay.Router()), cancel)
	log.Info().Str("address", app.Address).Msg("signaling relay started")

	<-stopped
	if err := relay.Close(); err != nil {
		log.Warn().Err(err).Msg("relay close failed")
	}
	log.Info().Msg("server stopped")

	return nil
}
