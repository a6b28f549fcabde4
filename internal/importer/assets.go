package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/arkeimport/internal/catalog"
	"github.com/starford/arkeimport/internal/source"
)

var (
	errNoObjectID = errors.New("asset has no objectId")
	errNoURL      = errors.New("asset has no objectUrl")
)

type pendingAsset struct {
	page   int
	asset  *source.Asset
	digest string
	size   int64
	err    error
}

// importAssets creates the digital objects of rec under the file unit fuID.
// Page numbers follow source order. Failures are contained per asset; only
// cancellation aborts the loop.
func (e *Engine) importAssets(ctx context.Context, rec *source.Record, fuID string) ([]AssetFailure, error) {
	var (
		failures []AssetFailure
		pending  []*pendingAsset
	)
	for i := range rec.Assets {
		a := &rec.Assets[i]
		page := i + 1
		if a.DecodeErr != nil {
			e.logger.Warn("asset decoded partially",
				slog.String("level", string(LevelDigitalObject)),
				slog.String("source_id", a.ObjectID),
				slog.String("record", rec.SourceID()),
				slog.Int("page", page),
				slog.String("error", a.DecodeErr.Error()))
		}
		switch {
		case a.ObjectID == "":
			failures = append(failures, e.assetFailed(rec, a, page, errNoObjectID))
		case e.isMapped(a.ObjectID):
			continue
		case a.URL == "":
			failures = append(failures, e.assetFailed(rec, a, page, errNoURL))
		default:
			pending = append(pending, &pendingAsset{page: page, asset: a})
		}
	}
	if len(pending) == 0 {
		return failures, nil
	}

	e.verifyAll(ctx, pending)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, p := range pending {
		if p.err != nil {
			failures = append(failures, e.assetFailed(rec, p.asset, p.page, p.err))
			continue
		}
		e.counters.bytesVerified.Add(p.size)

		obj := catalog.NewDigitalObject(p.asset, rec.NaID, p.page, p.digest, p.size, e.now())
		note := fmt.Sprintf("Page %d: %s (objectId:%s)", p.page, p.asset.Filename, p.asset.ObjectID)
		if _, err := e.create(ctx, LevelDigitalObject, ObjectKey(p.asset.ObjectID), fuID, catalog.ComponentDigitalObject, obj, note); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = append(failures, e.assetFailed(rec, p.asset, p.page, err))
		}
	}
	return failures, nil
}

func (e *Engine) isMapped(objectID string) bool {
	_, ok := e.ledger.Resolve(ObjectKey(objectID))
	return ok
}

// verifyAll digests every pending asset with at most VerifyWorkers in
// flight and returns once all of them have finished. Workers only fill in
// their own pendingAsset.
func (e *Engine) verifyAll(ctx context.Context, pending []*pendingAsset) {
	var g errgroup.Group
	g.SetLimit(e.cfg.VerifyWorkers)
	for _, p := range pending {
		p := p
		g.Go(func() error {
			p.digest, p.size, p.err = e.verifier.Verify(ctx, p.asset.URL)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) assetFailed(rec *source.Record, a *source.Asset, page int, err error) AssetFailure {
	e.counters.errors.Add(1)
	e.logger.Error("asset import failed",
		slog.String("level", string(LevelDigitalObject)),
		slog.String("source_id", a.ObjectID),
		slog.String("record", rec.SourceID()),
		slog.Int("page", page),
		slog.String("url", a.URL),
		slog.String("error", err.Error()))
	return AssetFailure{ObjectID: a.ObjectID, Page: page, Err: err}
}
