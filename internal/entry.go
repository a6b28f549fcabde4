// Package internal wires the import pipeline and its auxiliary commands.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/checkpoint"
	"github.com/starford/arkeimport/internal/importer"
	"github.com/starford/arkeimport/internal/journal"
	"github.com/starford/arkeimport/internal/ledger"
	"github.com/starford/arkeimport/internal/pipeline"
	"github.com/starford/arkeimport/internal/report"
	"github.com/starford/arkeimport/internal/sse"
	"github.com/starford/arkeimport/internal/status"
	"github.com/starford/arkeimport/internal/stopfile"
)

var (
	errStopFile   = errors.New("stop file detected")
	errImportDone = errors.New("import finished")
)

// Run performs the import described by the configuration. It returns an
// error wrapping apperr.ErrInterrupted when a signal or the stop file ends the
// run early; the checkpoint is then left for the next invocation.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(true, opts...)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger

	runID := uuid.NewString()
	logger.Info("Configuration loaded",
		slog.String("run_id", runID),
		slog.String("store_url", cfg.Store.URL),
		slog.String("source_kind", cfg.Source.Kind),
		slog.Int("shard_count", cfg.Source.ShardCount),
		slog.String("checkpoint_path", cfg.Import.CheckpointPath),
		slog.String("journal_path", cfg.Import.JournalPath),
		slog.Bool("dry_run", cfg.Import.DryRun),
		slog.String("log_level", cfg.App.LogLevel.String()))

	client, err := newStoreClient(cfg.Store, logger)
	if err != nil {
		return err
	}
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	logger.Info("Store reachable",
		slog.String("service", health.Service),
		slog.String("version", health.Version))

	feed, err := newFeed(cfg.Source)
	if err != nil {
		return err
	}

	ctlOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Import.JournalPath != "" && !cfg.Import.DryRun {
		j, err := journal.Open(cfg.Import.JournalPath)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		defer j.Close()
		ctlOpts = append(ctlOpts, pipeline.WithJournal(j))
	}

	engine := importer.New(ledger.New(), client, newVerifier(cfg.Import, cfg.Store.RetryMax, logger), importer.Config{
		CollectionID:  cfg.Import.CollectionID,
		Institution:   cfg.Import.Institution.Info(),
		VerifyWorkers: cfg.Import.VerifyWorkers,
		DryRun:        cfg.Import.DryRun,
		RunID:         runID,
	}, importer.WithLogger(logger))

	var (
		ctl        *pipeline.Controller
		broker     *sse.Broker
		httpServer *http.Server
	)
	if cfg.App.Status.Enabled {
		broker = sse.NewBroker(2 * time.Second)
		defer broker.Close()
		// Events only fire inside ctl.Run, after ctl is assigned.
		ctlOpts = append(ctlOpts, pipeline.WithEventHandler(func(kind string, data any) {
			broker.Publish(sse.Event{Type: kind, Data: data})
			broker.PublishProgress(ctl.Status())
		}))
	}

	ctl = pipeline.New(engine, feed, checkpoint.New(cfg.Import.CheckpointPath), pipeline.Config{
		ShardCount:      cfg.Source.ShardCount,
		CheckpointEvery: cfg.Import.CheckpointEvery,
		Delay:           cfg.Import.Delay,
		MaxRecords:      cfg.Import.MaxRecords,
		RunID:           runID,
	}, ctlOpts...)

	if broker != nil {
		httpServer = &http.Server{
			Addr: cfg.App.Status.Address(),
			Handler: status.NewRouter(ctl, status.Options{
				Token:  cfg.App.Status.Token,
				Events: broker,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop(errImportDone)
		return ctl.Run(gCtx)
	})

	if cfg.Import.StopFile != "" {
		g.Go(func() error {
			err := stopfile.Watch(gCtx, cfg.Import.StopFile, logger, func() { stop(errStopFile) })
			if err != nil {
				logger.Error("stop file watcher disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("Starting status server", slog.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			stop(fmt.Errorf("received %s", sig))
		case <-gCtx.Done():
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Status server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	err = g.Wait()

	st := ctl.Status()
	report.Summary(app.out, st.Counters, time.Since(st.StartedAt))

	switch {
	case err == nil:
		logger.Info("Import finished", slog.String("run_id", runID))
		return nil
	case errors.Is(err, apperr.ErrInterrupted):
		logger.Warn("Import interrupted", slog.String("error", err.Error()))
		return err
	default:
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
}
