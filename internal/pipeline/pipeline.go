// Package pipeline drives the import over numbered feed shards and makes
// the run resumable: the cursor and ledger are checkpointed every few
// successful records, restored on start, and discarded on completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/checkpoint"
	"github.com/starford/arkeimport/internal/importer"
	"github.com/starford/arkeimport/internal/journal"
	"github.com/starford/arkeimport/internal/source"
)

// Defaults for Config.
const (
	DefaultCheckpointEvery = 10
	DefaultDelay           = 60 * time.Second
	DefaultShardCount      = 72
)

// Event types passed to the event handler.
const (
	EventRecordImported  = "record.imported"
	EventRecordFailed    = "record.failed"
	EventCheckpointSaved = "checkpoint.saved"
	EventShardCompleted  = "shard.completed"
	EventShardSkipped    = "shard.skipped"
	EventRunFinished     = "run.finished"
)

// Config bounds a run.
type Config struct {
	ShardCount      int
	CheckpointEvery int
	// Delay is the pause between consecutive records.
	Delay time.Duration
	// MaxRecords caps the records imported in this invocation; failed
	// records do not count. 0 is no cap.
	MaxRecords int
	RunID      string
}

// Journal is the durable side log used to rebuild the ledger.
type Journal interface {
	importer.Journal
	Entities(ctx context.Context) ([]journal.Entity, error)
	RecordFailure(ctx context.Context, f journal.Failure) error
	Reset(ctx context.Context) error
}

// EventHandler receives progress events. It must not block.
type EventHandler func(kind string, data any)

// Phase is the lifecycle state of a run.
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseRunning     Phase = "running"
	PhaseCompleted   Phase = "completed"
	PhaseInterrupted Phase = "interrupted"
	PhaseFailed      Phase = "failed"
)

// Status is a snapshot of the run for reporting.
type Status struct {
	RunID      string            `json:"run_id"`
	Phase      Phase             `json:"phase"`
	Shard      int               `json:"shard"`
	Record     int               `json:"record"`
	ShardCount int               `json:"shard_count"`
	LedgerSize int               `json:"ledger_size"`
	StartedAt  time.Time         `json:"started_at"`
	Elapsed    string            `json:"elapsed"`
	Counters   importer.Counters `json:"counters"`
}

// Controller owns the cursor of one run.
type Controller struct {
	cfg     Config
	engine  *importer.Engine
	feed    source.Feed
	cp      *checkpoint.File
	journal Journal
	onEvent EventHandler
	logger  *slog.Logger

	// dryRun runs leave the checkpoint and journal of real runs untouched.
	dryRun bool

	mu        sync.Mutex
	phase     Phase
	shard     int
	record    int
	startedAt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithJournal rebuilds the ledger from j on start, logs failures to it and
// has the engine record every creation in it. Dry runs ignore it.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithEventHandler forwards progress events to fn.
func WithEventHandler(fn EventHandler) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New builds a Controller.
func New(engine *importer.Engine, feed source.Feed, cp *checkpoint.File, cfg Config, opts ...Option) *Controller {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	c := &Controller{
		cfg:    cfg,
		engine: engine,
		feed:   feed,
		cp:     cp,
		logger: slog.Default(),
		phase:  PhaseStarting,
		shard:  1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dryRun = engine.DryRun()
	if c.dryRun {
		c.journal = nil
	}
	if c.journal != nil {
		engine.SetJournal(c.journal)
	}
	return c
}

// Status returns the current run snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		RunID:      c.cfg.RunID,
		Phase:      c.phase,
		Shard:      c.shard,
		Record:     c.record,
		ShardCount: c.cfg.ShardCount,
		StartedAt:  c.startedAt,
	}
	c.mu.Unlock()
	if !st.StartedAt.IsZero() {
		st.Elapsed = time.Since(st.StartedAt).Round(time.Second).String()
	}
	st.LedgerSize = c.engine.Ledger().Len()
	st.Counters = c.engine.Counters()
	return st
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) setCursor(shard, record int) {
	c.mu.Lock()
	c.shard, c.record = shard, record
	c.mu.Unlock()
}

func (c *Controller) emit(kind string, data any) {
	if c.onEvent != nil {
		c.onEvent(kind, data)
	}
}

// Run imports every shard from the saved cursor onward. It returns nil on
// completion (checkpoint removed), an error wrapping apperr.ErrInterrupted
// when ctx is cancelled (checkpoint left as last saved), or a startup error.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()

	state, err := c.restore(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupted(ctx)
		}
		c.setPhase(PhaseFailed)
		return err
	}
	c.setCursor(state.ShardIndex, state.RecordIndex)

	if _, err := c.engine.EnsureInstitution(ctx); err != nil {
		if ctx.Err() != nil {
			return c.interrupted(ctx)
		}
		c.setPhase(PhaseFailed)
		return fmt.Errorf("pipeline: ensure institution: %w", err)
	}

	c.setPhase(PhaseRunning)
	err = c.loop(ctx, state)
	if errors.Is(err, errCapReached) {
		err = nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupted(ctx)
		}
		c.setPhase(PhaseFailed)
		return err
	}
	return c.complete(ctx)
}

var errCapReached = errors.New("record cap reached")

func (c *Controller) loop(ctx context.Context, state *checkpoint.State) error {
	var (
		imported        int
		sinceCheckpoint int
		first           = true
	)
	capped := func() bool { return c.cfg.MaxRecords > 0 && imported >= c.cfg.MaxRecords }
	for shard := state.ShardIndex; shard <= c.cfg.ShardCount; shard++ {
		if capped() {
			c.logger.Info("record cap reached", slog.Int("max_records", c.cfg.MaxRecords))
			return errCapReached
		}
		start := 0
		if shard == state.ShardIndex {
			start = state.RecordIndex
		}
		c.setCursor(shard, start)

		sh, err := source.Load(ctx, c.feed, shard)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("shard retrieval failed, skipping",
				slog.Int("shard", shard),
				slog.String("error", err.Error()))
			c.emit(EventShardSkipped, map[string]any{"shard": shard, "error": err.Error()})
			continue
		}
		c.logger.Info("shard loaded", slog.Int("shard", shard), slog.Int("records", len(sh.Entries)), slog.Int("start", start))

		for i := start; i < len(sh.Entries); i++ {
			if capped() {
				c.logger.Info("record cap reached", slog.Int("max_records", c.cfg.MaxRecords))
				return errCapReached
			}
			if !first {
				if err := sleep(ctx, c.cfg.Delay); err != nil {
					return err
				}
			}
			first = false
			c.setCursor(shard, i)

			ok, err := c.processEntry(ctx, shard, i, sh.Entries[i])
			if err != nil {
				return err
			}
			if ok {
				imported++
				sinceCheckpoint++
			}
			if sinceCheckpoint >= c.cfg.CheckpointEvery {
				c.save(shard, i+1)
				sinceCheckpoint = 0
			}
		}

		c.save(shard+1, 0)
		sinceCheckpoint = 0
		c.emit(EventShardCompleted, map[string]any{"shard": shard})
	}
	return nil
}

// processEntry imports one feed entry. It reports whether the record
// succeeded; the only error it returns is cancellation.
func (c *Controller) processEntry(ctx context.Context, shard, index int, entry source.Entry) (bool, error) {
	rec, err := entry.Decode()
	if err != nil {
		c.engine.CountError(true)
		var me *source.MalformedError
		sourceID := ""
		if errors.As(err, &me) {
			sourceID = me.SourceID
		}
		c.logger.Error("record decode failed",
			slog.Int("shard", shard),
			slog.Int("record_index", index),
			slog.String("source_id", sourceID),
			slog.String("level", string(importer.LevelFileUnit)),
			slog.String("error", err.Error()))
		c.failure(ctx, shard, index, sourceID, string(importer.LevelFileUnit), err)
		return false, nil
	}

	res, err := c.engine.Import(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		level := string(importer.LevelFileUnit)
		sourceID := rec.SourceID()
		var ie *importer.Error
		if errors.As(err, &ie) {
			level, sourceID = string(ie.Level), ie.SourceID
		}
		c.failure(ctx, shard, index, sourceID, level, err)
		return false, nil
	}

	for _, af := range res.AssetFailures {
		c.failure(ctx, shard, index, af.ObjectID, string(importer.LevelDigitalObject), af.Err)
	}
	c.emit(EventRecordImported, map[string]any{
		"shard":          shard,
		"record_index":   index,
		"source_id":      rec.SourceID(),
		"pi":             res.FileUnitID,
		"asset_failures": len(res.AssetFailures),
	})
	return true, nil
}

func (c *Controller) failure(ctx context.Context, shard, index int, sourceID, level string, cause error) {
	c.emit(EventRecordFailed, map[string]any{
		"shard":        shard,
		"record_index": index,
		"source_id":    sourceID,
		"level":        level,
		"error":        cause.Error(),
	})
	if c.journal == nil {
		return
	}
	err := c.journal.RecordFailure(ctx, journal.Failure{
		RunID:       c.cfg.RunID,
		Shard:       shard,
		RecordIndex: index,
		SourceID:    sourceID,
		Level:       level,
		Error:       cause.Error(),
	})
	if err != nil {
		c.logger.Warn("journal failure write failed", slog.String("error", err.Error()))
	}
}

// save persists the cursor and a full ledger snapshot. A failed write keeps
// the previous checkpoint, which is still a valid resume point.
func (c *Controller) save(shard, record int) {
	if c.dryRun {
		c.logProgress("dry run: checkpoint not written", shard, record)
		return
	}
	l := c.engine.Ledger()
	inst, _ := l.Institution()
	state := &checkpoint.State{
		ShardIndex:    shard,
		RecordIndex:   record,
		IDMap:         l.Snapshot(),
		InstitutionID: inst,
		SavedAt:       time.Now().UTC(),
		RunID:         c.cfg.RunID,
	}
	if err := c.cp.Save(state); err != nil {
		c.logger.Error("checkpoint save failed", slog.String("error", err.Error()))
		return
	}
	c.logProgress("checkpoint saved", shard, record)
	c.emit(EventCheckpointSaved, map[string]any{"shard": shard, "record_index": record, "entries": len(state.IDMap)})
}

func (c *Controller) logProgress(msg string, shard, record int) {
	cnt := c.engine.Counters()
	c.logger.Info(msg,
		slog.Int("shard", shard),
		slog.Int("record_index", record),
		slog.Int64("institutions", cnt.Institutions),
		slog.Int64("collections", cnt.Collections),
		slog.Int64("series", cnt.Series),
		slog.Int64("fileunits", cnt.FileUnits),
		slog.Int64("digitalobjects", cnt.DigitalObjects),
		slog.Int64("bytes_hashed", cnt.BytesVerified),
		slog.Int64("errors", cnt.Errors))
}

func (c *Controller) complete(ctx context.Context) error {
	if !c.dryRun {
		if err := c.cp.Remove(); err != nil {
			c.logger.Error("checkpoint removal failed", slog.String("error", err.Error()))
		}
	}
	if c.journal != nil {
		if err := c.journal.Reset(ctx); err != nil {
			c.logger.Warn("journal reset failed", slog.String("error", err.Error()))
		}
	}
	c.setPhase(PhaseCompleted)
	st := c.Status()
	c.logProgress("import complete", st.Shard, st.Record)
	c.emit(EventRunFinished, st)
	return nil
}

func (c *Controller) interrupted(ctx context.Context) error {
	c.setPhase(PhaseInterrupted)
	st := c.Status()
	c.logProgress("import interrupted, checkpoint preserved", st.Shard, st.Record)
	c.emit(EventRunFinished, st)
	return fmt.Errorf("pipeline: %w: %w", apperr.ErrInterrupted, context.Cause(ctx))
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
