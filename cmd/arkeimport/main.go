package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/arkeimport/internal"
	"github.com/starford/arkeimport/internal/apperr"
	pkgconfig "github.com/starford/arkeimport/pkg/config"
)

// exitInterrupted is returned when a run stops early with its checkpoint kept.
const exitInterrupted = 130

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("dry-run") {
		cfg.Import.DryRun = cmd.Bool("dry-run")
	}
	if cmd.IsSet("max-records") {
		cfg.Import.MaxRecords = int(cmd.Int("max-records"))
	}
	if cmd.IsSet("delay") {
		cfg.Import.Delay = cmd.Duration("delay")
	}
	if err := pkgconfig.Validate(cfg); err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func estimate(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Estimate(ctx, int(cmd.Int("shards")), int(cmd.Int("sample")), internal.WithConfig(cfg))
}

func tree(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Tree(ctx, int(cmd.Int("limit")), internal.WithConfig(cfg))
}

func appendChild(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: append-child <parent-pi> <child-pi>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.AppendChild(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.String("note"), internal.WithConfig(cfg))
}

func stubStore(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return internal.ServeStub(ctx, cmd.String("addr"))
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Log intended creations without writing to the store",
		},
		&cli.IntFlag{
			Name:  "max-records",
			Usage: "Stop after this many records (0 = no cap)",
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "Pause between records",
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "arkeimport",
		Usage:  "Resumable import of NARA catalog shards into an Arke entity store",
		Action: runImport,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		}, runFlags()...),
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Import shards, resuming from the checkpoint if one exists",
				Flags:  runFlags(),
				Action: runImport,
			},
			{
				Name:  "estimate",
				Usage: "Estimate the download volume of the collection's assets",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "shards", Usage: "Read only the first N shards (0 = all)", Value: 1},
					&cli.IntFlag{Name: "sample", Usage: "Number of assets to download", Value: 20},
				},
				Action: estimate,
			},
			{
				Name:  "tree",
				Usage: "Print the anchor, its institutions and their first collections",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Collections shown per institution", Value: 3},
				},
				Action: tree,
			},
			{
				Name:      "append-child",
				Usage:     "Append a child to an entity with a compare-and-swap version",
				ArgsUsage: "<parent-pi> <child-pi>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "note", Usage: "Version note"},
				},
				Action: appendChild,
			},
			{
				Name:  "stub-store",
				Usage: "Serve an in-memory entity store for local runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address", Value: ":8787"},
				},
				Action: stubStore,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		if errors.Is(err, apperr.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
