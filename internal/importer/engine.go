// Package importer turns source records into entities, creating the
// institution, collection, series, file unit and digital object levels top
// down and skipping every level the ledger already knows.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/arkeimport/internal/catalog"
	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/journal"
	"github.com/starford/arkeimport/internal/ledger"
	"github.com/starford/arkeimport/internal/source"
)

// Level names an entity level in logs, counters and the journal.
type Level string

const (
	LevelInstitution   Level = "institution"
	LevelCollection    Level = "collection"
	LevelSeries        Level = "series"
	LevelFileUnit      Level = "fileunit"
	LevelDigitalObject Level = "digitalobject"
)

// InstitutionKey is the journal source id of the institution entity.
const InstitutionKey = "institution"

// ObjectKey is the ledger key of a digital object. Object ids live in their
// own namespace so they can never shadow a description naId.
func ObjectKey(objectID string) string { return "object:" + objectID }

// Store is the subset of the entity store the engine writes to.
type Store interface {
	Anchor(ctx context.Context) (*entitystore.EntityVersion, error)
	UploadContent(ctx context.Context, data []byte, name string) (string, int64, error)
	CreateEntity(ctx context.Context, req entitystore.CreateRequest) (*entitystore.CreateResult, error)
}

// Verifier digests a remote asset.
type Verifier interface {
	Verify(ctx context.Context, url string) (string, int64, error)
}

// Journal durably records each creation.
type Journal interface {
	RecordEntity(ctx context.Context, e journal.Entity) error
}

// Config holds the engine's static settings.
type Config struct {
	CollectionID  string
	Institution   catalog.InstitutionInfo
	VerifyWorkers int
	DryRun        bool
	RunID         string
}

// Error is a record-level failure tagged with the level and source id it
// happened at.
type Error struct {
	Level    Level
	SourceID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Level, e.SourceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AssetFailure is a contained per-asset error.
type AssetFailure struct {
	ObjectID string
	Page     int
	Err      error
}

// Result is the outcome of a successfully imported record.
type Result struct {
	FileUnitID    string
	AssetFailures []AssetFailure
}

// Engine imports records one at a time. It is not safe for concurrent use;
// Counters may be read from any goroutine.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	store    Store
	verifier Verifier
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time
	counters counters
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the timestamp source for catalog records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine writing to store and recording into l.
func New(l *ledger.Ledger, store Store, verifier Verifier, cfg Config, opts ...Option) *Engine {
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = 1
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   l,
		store:    store,
		verifier: verifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the ledger the engine records into.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// SetJournal records every later creation in j. A nil j disables journaling.
func (e *Engine) SetJournal(j Journal) { e.journal = j }

// DryRun reports whether the engine only simulates creations.
func (e *Engine) DryRun() bool { return e.cfg.DryRun }

// EnsureInstitution returns the institution entity id, creating it on first
// use. The anchor entity becomes its parent when it can be read.
func (e *Engine) EnsureInstitution(ctx context.Context) (string, error) {
	if id, ok := e.ledger.Institution(); ok {
		return id, nil
	}

	rec := catalog.NewInstitution(e.cfg.Institution, e.now())
	data, err := catalog.Marshal(rec)
	if err != nil {
		return "", &Error{Level: LevelInstitution, SourceID: InstitutionKey, Err: err}
	}
	note := "Institution: " + e.cfg.Institution.Name

	if e.cfg.DryRun {
		id := "dry-run-" + InstitutionKey
		e.logger.Info("dry run: would create entity", slog.String("level", string(LevelInstitution)), slog.String("note", note))
		if err := e.ledger.SetInstitution(id); err != nil {
			return "", err
		}
		e.counters.institutions.Add(1)
		return id, nil
	}

	cid, _, err := e.store.UploadContent(ctx, data, "institution.json")
	if err != nil {
		return "", &Error{Level: LevelInstitution, SourceID: InstitutionKey, Err: err}
	}

	var parent string
	anchor, err := e.store.Anchor(ctx)
	if err != nil {
		e.logger.Warn("anchor entity unavailable, creating institution without parent",
			slog.String("error", err.Error()))
	} else {
		parent = anchor.PI
	}

	res, err := e.store.CreateEntity(ctx, entitystore.CreateRequest{
		Components: map[string]string{catalog.ComponentCatalogRecord: cid},
		ParentPI:   parent,
		Note:       note,
	})
	if err != nil {
		return "", &Error{Level: LevelInstitution, SourceID: InstitutionKey, Err: err}
	}
	e.journalEntity(ctx, InstitutionKey, res.PI, LevelInstitution)
	if err := e.ledger.SetInstitution(res.PI); err != nil {
		return "", err
	}
	e.counters.institutions.Add(1)
	e.logger.Info("entity created",
		slog.String("level", string(LevelInstitution)),
		slog.String("pi", res.PI),
		slog.String("name", e.cfg.Institution.Name))
	return res.PI, nil
}

// ImportRecord imports rec and returns its file unit id.
func (e *Engine) ImportRecord(ctx context.Context, rec *source.Record) (string, error) {
	res, err := e.Import(ctx, rec)
	if err != nil {
		return "", err
	}
	return res.FileUnitID, nil
}

// Import imports rec and reports per-asset failures alongside the file unit
// id. A record-level failure is counted and logged once; cancellation is
// returned unlogged.
func (e *Engine) Import(ctx context.Context, rec *source.Record) (*Result, error) {
	res, err := e.importRecord(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.counters.recordsFailed.Add(1)
		e.counters.errors.Add(1)
		level, sourceID := LevelFileUnit, rec.SourceID()
		var ie *Error
		if errors.As(err, &ie) {
			level, sourceID = ie.Level, ie.SourceID
		}
		e.logger.Error("record import failed",
			slog.String("record", rec.SourceID()),
			slog.String("level", string(level)),
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
		return nil, err
	}
	e.counters.recordsProcessed.Add(1)
	return res, nil
}

func (e *Engine) importRecord(ctx context.Context, rec *source.Record) (*Result, error) {
	collection, series, err := rec.Hierarchy()
	if err != nil {
		return nil, &Error{Level: LevelFileUnit, SourceID: rec.SourceID(), Err: err}
	}

	instID, err := e.EnsureInstitution(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()

	collID, err := e.ensure(ctx, LevelCollection, collection.SourceID(), instID,
		catalog.NewCollection(collection, e.cfg.CollectionID, now),
		fmt.Sprintf("Collection: %s (naId:%d)", collection.Title, collection.NaID))
	if err != nil {
		return nil, err
	}

	seriesID, err := e.ensure(ctx, LevelSeries, series.SourceID(), collID,
		catalog.NewSeries(series, collection, now),
		fmt.Sprintf("Series: %s (naId:%d)", series.Title, series.NaID))
	if err != nil {
		return nil, err
	}

	fuID, err := e.ensure(ctx, LevelFileUnit, rec.SourceID(), seriesID,
		catalog.NewFileUnit(rec, collection, series, now),
		fmt.Sprintf("FileUnit: %s (naId:%d, %d pages)", rec.Title, rec.NaID, len(rec.Assets)))
	if err != nil {
		return nil, err
	}

	failures, err := e.importAssets(ctx, rec, fuID)
	if err != nil {
		return nil, err
	}
	return &Result{FileUnitID: fuID, AssetFailures: failures}, nil
}

// ensure returns the entity id for sourceID, creating it under parent when
// the ledger has no entry.
func (e *Engine) ensure(ctx context.Context, level Level, sourceID, parent string, rec catalog.Record, note string) (string, error) {
	if id, ok := e.ledger.Resolve(sourceID); ok {
		return id, nil
	}
	id, err := e.create(ctx, level, sourceID, parent, catalog.ComponentCatalogRecord, rec, note)
	if err != nil {
		return "", &Error{Level: level, SourceID: sourceID, Err: err}
	}
	return id, nil
}

func (e *Engine) create(ctx context.Context, level Level, key, parent, component string, rec catalog.Record, note string) (string, error) {
	data, err := catalog.Marshal(rec)
	if err != nil {
		return "", err
	}

	if e.cfg.DryRun {
		id := "dry-run-" + key
		e.logger.Info("dry run: would create entity",
			slog.String("level", string(level)),
			slog.String("source_id", key),
			slog.String("parent", parent),
			slog.String("note", note))
		if err := e.ledger.Record(key, id); err != nil {
			return "", err
		}
		e.counters.created(level)
		return id, nil
	}

	cid, _, err := e.store.UploadContent(ctx, data, string(level)+".json")
	if err != nil {
		return "", err
	}
	res, err := e.store.CreateEntity(ctx, entitystore.CreateRequest{
		Components: map[string]string{component: cid},
		ParentPI:   parent,
		Note:       note,
	})
	if err != nil {
		return "", err
	}
	e.journalEntity(ctx, key, res.PI, level)
	if err := e.ledger.Record(key, res.PI); err != nil {
		return "", err
	}
	e.counters.created(level)
	e.logger.Debug("entity created",
		slog.String("level", string(level)),
		slog.String("source_id", key),
		slog.String("pi", res.PI))
	return res.PI, nil
}

func (e *Engine) journalEntity(ctx context.Context, key, pi string, level Level) {
	if e.journal == nil {
		return
	}
	// The store already holds the entity; a journal miss only widens the
	// duplicate window on crash.
	err := e.journal.RecordEntity(context.WithoutCancel(ctx), journal.Entity{
		SourceID:  key,
		StoreID:   pi,
		Level:     string(level),
		RunID:     e.cfg.RunID,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn("journal write failed",
			slog.String("level", string(level)),
			slog.String("source_id", key),
			slog.String("error", err.Error()))
	}
}
