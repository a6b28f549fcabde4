package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/report"
	"github.com/starford/arkeimport/internal/source"
	"github.com/starford/arkeimport/internal/storestub"
)

// Estimate samples asset URLs from the first shards of the feed and prints
// the projected download volume. shards <= 0 reads every configured shard.
func Estimate(ctx context.Context, shards, sampleSize int, opts ...Option) error {
	app, err := newApplication(true, opts...)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger

	feed, err := newFeed(cfg.Source)
	if err != nil {
		return err
	}
	if shards <= 0 || shards > cfg.Source.ShardCount {
		shards = cfg.Source.ShardCount
	}

	var urls []string
	for n := 1; n <= shards; n++ {
		sh, err := source.Load(ctx, feed, n)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("shard skipped", slog.Int("shard", n), slog.String("error", err.Error()))
			continue
		}
		for _, entry := range sh.Entries {
			rec, err := entry.Decode()
			if err != nil {
				continue
			}
			urls = append(urls, rec.AssetURLs()...)
		}
	}
	logger.Info("asset urls collected", slog.Int("shards", shards), slog.Int("urls", len(urls)))

	est := newVerifier(cfg.Import, cfg.Store.RetryMax, logger).EstimateTotalSize(ctx, urls, sampleSize)
	report.Estimate(app.out, est)
	return ctx.Err()
}

// Tree prints the anchor entity, the institutions below it and up to limit
// collections per institution, followed by the store's entity count.
func Tree(ctx context.Context, limit int, opts ...Option) error {
	app, err := newApplication(true, opts...)
	if err != nil {
		return err
	}
	client, err := newStoreClient(app.config.Store, app.logger)
	if err != nil {
		return err
	}

	anchor, err := client.Anchor(ctx)
	if err != nil {
		return fmt.Errorf("read anchor: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(app.out)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Entity", "PI", "Version", "Children", "Note"})
	t.AppendRow(entityRow("anchor", anchor))

	for _, instPI := range anchor.ChildrenPI {
		inst, err := client.Read(ctx, instPI)
		if err != nil {
			t.AppendRow(table.Row{"├─ institution", instPI, "", "", "error: " + err.Error()})
			continue
		}
		t.AppendRow(entityRow("├─ institution", inst))
		for i, collPI := range inst.ChildrenPI {
			if i == limit {
				t.AppendRow(table.Row{"│  └─ ...", "", "", "", fmt.Sprintf("%d more", len(inst.ChildrenPI)-limit)})
				break
			}
			coll, err := client.Read(ctx, collPI)
			if err != nil {
				t.AppendRow(table.Row{"│  ├─ collection", collPI, "", "", "error: " + err.Error()})
				continue
			}
			t.AppendRow(entityRow("│  ├─ collection", coll))
		}
	}

	var total int
	if err := client.EachEntity(ctx, 100, func(entitystore.ListedEntity) error {
		total++
		return nil
	}); err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	t.AppendFooter(table.Row{"Total entities", total})
	t.Render()
	return nil
}

func entityRow(label string, v *entitystore.EntityVersion) table.Row {
	return table.Row{label, v.PI, fmt.Sprintf("v%d", v.Ver), len(v.ChildrenPI), v.Note}
}

// AppendChild adds childPI to parentPI's children with a compare-and-swap
// version append. A concurrent writer surfaces as apperr.ErrConflict.
func AppendChild(ctx context.Context, parentPI, childPI, note string, opts ...Option) error {
	app, err := newApplication(true, opts...)
	if err != nil {
		return err
	}
	client, err := newStoreClient(app.config.Store, app.logger)
	if err != nil {
		return err
	}

	if _, err := client.Read(ctx, childPI); err != nil {
		return fmt.Errorf("read child %s: %w", childPI, err)
	}
	tip, err := client.Resolve(ctx, parentPI)
	if err != nil {
		return fmt.Errorf("resolve parent %s: %w", parentPI, err)
	}
	if note == "" {
		note = "Added child " + childPI
	}
	res, err := client.AppendVersion(ctx, parentPI, entitystore.AppendRequest{
		ExpectTip:     tip.Tip,
		ChildrenPIAdd: []string{childPI},
		Note:          note,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return fmt.Errorf("parent %s changed since %s, retry: %w", parentPI, tip.Tip, err)
		}
		return fmt.Errorf("append to %s: %w", parentPI, err)
	}
	fmt.Fprintf(app.out, "%s is now at v%d (tip %s)\n", res.PI, res.Ver, res.Tip)
	return nil
}

// ServeStub runs the in-memory entity store on addr until ctx is done.
func ServeStub(ctx context.Context, addr string, opts ...Option) error {
	app, err := newApplication(false, opts...)
	if err != nil {
		return err
	}
	logger := app.logger

	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Logger(storestub.NewRouter(storestub.New())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting stub store", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("stub store: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stub store shutdown: %w", err)
	}
	logger.Info("Stub store stopped")
	return nil
}
