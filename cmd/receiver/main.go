package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Jeong-dawon/MultiFlexer/internal/app"
	"github.com/Jeong-dawon/MultiFlexer/internal/config"
	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

func main() {
	app := &cli.App{
		Name:  "multiflexer-receiver",
		Usage: "Receives and arranges the screens shared into a room",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a config file; MULTIFLEXER_* variables override it",
			},
			&cli.StringFlag{
				Name:  "signaling-url",
				Usage: "websocket url of the signaling server",
			},
			&cli.StringFlag{
				Name:  "room",
				Usage: "room to join as receiver",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "receiver name announced on join",
			},
			&cli.StringFlag{
				Name:  "play-policy",
				Usage: "'pause-unassigned' or 'always-playing'",
			},
			&cli.StringFlag{
				Name:  "control-address",
				Usage: "listen address of the control API, example: ':8090'",
			},
		},
		Action: startReceiver,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startReceiver(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("signaling-url") {
		conf.Signaling.URL = c.String("signaling-url")
	}
	if c.IsSet("room") {
		conf.Signaling.RoomName = c.String("room")
	}
	if c.IsSet("name") {
		conf.Receiver.Name = c.String("name")
	}
	if c.IsSet("play-policy") {
		conf.Registry.PlayPolicy = c.String("play-policy")
	}
	if c.IsSet("control-address") {
		conf.Control.Address = c.String("control-address")
	}

	return app.NewReceiver(app.ReceiverAppOptions{
		Env:    env,
		Config: conf,
	}).Start()
}
