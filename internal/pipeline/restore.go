package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/arkeimport/internal/checkpoint"
	"github.com/starford/arkeimport/internal/importer"
	"github.com/starford/arkeimport/internal/ledger"
)

// restore loads the checkpoint into the engine's ledger and merges in any
// creations the journal saw after that checkpoint was written. Dry runs
// always start from the first shard with an empty ledger.
func (c *Controller) restore(ctx context.Context) (*checkpoint.State, error) {
	if c.dryRun {
		return checkpoint.Fresh(), nil
	}
	state, err := c.cp.Load()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	l := c.engine.Ledger()
	if err := l.LoadSnapshot(state.IDMap); err != nil {
		return nil, fmt.Errorf("pipeline: restore ledger: %w", err)
	}
	if state.InstitutionID != "" {
		if err := l.SetInstitution(state.InstitutionID); err != nil {
			return nil, fmt.Errorf("pipeline: restore institution: %w", err)
		}
	}

	recovered := 0
	if c.journal != nil {
		entities, err := c.journal.Entities(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read journal: %w", err)
		}
		for _, e := range entities {
			if e.Level == string(importer.LevelInstitution) {
				if _, ok := l.Institution(); ok {
					continue
				}
				if err := l.SetInstitution(e.StoreID); err != nil {
					return nil, fmt.Errorf("pipeline: replay journal: %w", err)
				}
				recovered++
				continue
			}
			if _, ok := l.Resolve(e.SourceID); ok {
				if err := l.Record(e.SourceID, e.StoreID); errors.Is(err, ledger.ErrRebind) {
					c.logger.Warn("journal disagrees with checkpoint, keeping checkpoint",
						slog.String("source_id", e.SourceID),
						slog.String("level", e.Level),
						slog.String("journal_pi", e.StoreID))
				}
				continue
			}
			if err := l.Record(e.SourceID, e.StoreID); err != nil {
				return nil, fmt.Errorf("pipeline: replay journal: %w", err)
			}
			recovered++
		}
	}

	if state.ShardIndex > 1 || state.RecordIndex > 0 || len(state.IDMap) > 0 {
		c.logger.Info("resuming from checkpoint",
			slog.String("path", c.cp.Path()),
			slog.Int("shard", state.ShardIndex),
			slog.Int("record_index", state.RecordIndex),
			slog.Int("ledger_entries", len(state.IDMap)),
			slog.Int("journal_recovered", recovered),
			slog.Time("saved_at", state.SavedAt))
	} else if recovered > 0 {
		c.logger.Info("recovered creations from journal", slog.Int("journal_recovered", recovered))
	}
	return state, nil
}
