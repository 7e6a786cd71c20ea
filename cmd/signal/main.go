package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Jeong-dawon/MultiFlexer/internal/app"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

func main() {
	app := &cli.App{
		Name:  "multiflexer-signal",
		Usage: "Development signaling relay for receivers and senders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':3000' (default value) for listen on 0.0.0.0:3000",
				Value: ":3000",
			},
		},
		Action: startSignal,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startSignal(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}

	return app.NewSignal(app.SignalAppOptions{
		Address: c.String("address"),
		Env:     env,
	}).Start()
}
