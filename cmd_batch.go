package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/chaos-io/img2mesh/batch"
)

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Convert every image in a directory, labels taken from file names",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "schedule",
				Usage: `Cron spec to rescan the directory, e.g. "@every 10m"`,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected argument <dir>")
			}

			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			b := batch.New(batch.Config{
				InputDir:  cmd.Args().First(),
				OutputDir: app.cfg.OutputDir,
				Format:    app.cfg.Format,
			}, app.pipeline, app.logger.Named("batch"))

			schedule := app.cfg.Batch.Schedule
			if cmd.IsSet("schedule") {
				schedule = cmd.String("schedule")
			}
			if schedule != "" {
				return b.Schedule(ctx, schedule)
			}

			sum, err := b.RunOnce(ctx)
			if err != nil {
				return err
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d images failed", sum.Failed, sum.Failed+sum.Converted)
			}
			return nil
		},
	}
}
