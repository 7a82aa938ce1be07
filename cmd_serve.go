package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/chaos-io/img2mesh/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the conversion pipeline over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default from config, :8080)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			addr := app.cfg.Server.Addr
			if cmd.IsSet("addr") {
				addr = cmd.String("addr")
			}

			s := server.New(server.Config{
				Addr:        addr,
				OutputDir:   app.cfg.OutputDir,
				Format:      app.cfg.Format,
				MaxUploadMB: app.cfg.Server.MaxUploadMB,
			}, app.pipeline, app.logger.Named("server"))
			return s.Run(ctx)
		},
	}
}
