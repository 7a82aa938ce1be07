package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/pipeline"
	"github.com/chaos-io/img2mesh/util"
)

const description = `Examples:
  img2mesh image.jpg cake
  img2mesh https://example.com/image.jpg birthday
  img2mesh --format gltf --output-dir /data/out cake.png cake

Output:
  - Background-removed image: <output-dir>/removal/<date>_<label>_no_bg.png
  - 3D mesh:                  <output-dir>/mesh/<date>_<label>.<format>`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "✗ Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:        "img2mesh",
		Usage:       "Generate a 3D mesh from an image",
		ArgsUsage:   "<image_path> <label>",
		Description: description,
		Flags:       globalFlags(),
		Action:      generate,
		Commands: []*cli.Command{
			serveCommand(),
			batchCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML config file",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Value: "outputs",
			Usage: "Output base directory",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: pipeline.FormatGLB,
			Usage: "Mesh format: glb, gltf or stl",
		},
		&cli.StringFlag{
			Name:  "remover",
			Usage: "Background remover: birefnet, comfyui or none",
		},
		&cli.StringFlag{
			Name:  "generator",
			Usage: "Shape generator: hunyuan3d or relief",
		},
		&cli.StringFlag{
			Name:  "device",
			Value: pipeline.DeviceAuto,
			Usage: "Inference device: auto, cuda or cpu",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "console or json",
		},
	}
}

func generate(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		_ = cli.ShowAppHelp(cmd)
		return errors.New("expected arguments <image_path> <label>")
	}
	imagePath, label := cmd.Args().Get(0), cmd.Args().Get(1)

	// 先校验 label，不合法时不加载任何东西
	if err := pipeline.ValidateLabel(label); err != nil {
		return err
	}

	app, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.close()
	defer util.Trace("img2mesh " + label)()

	res, err := app.pipeline.Run(ctx, pipeline.Request{
		ImagePath: imagePath,
		Label:     label,
		OutputDir: app.cfg.OutputDir,
		Format:    app.cfg.Format,
	})
	if err != nil {
		return err
	}

	app.logger.Info("done", zap.String("removal", res.RemovalPath), zap.String("mesh", res.MeshPath))
	_, _ = fmt.Fprintf(os.Stdout, "\n✅ Success!\n   Background-removed image: %s\n   3D mesh: %s\n", res.RemovalPath, res.MeshPath)
	return nil
}
