package internal

import (
	"fmt"
	"log/slog"

	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/source"
	"github.com/starford/arkeimport/internal/verify"
)

func newStoreClient(cfg StoreConfig, logger *slog.Logger) (*entitystore.Client, error) {
	client, err := entitystore.New(cfg.URL, entitystore.Options{
		Timeout:           cfg.Timeout,
		RetryMax:          cfg.RetryMax,
		RequestsPerSecond: cfg.RequestsPerSecond,
		AnchorPath:        cfg.AnchorPath,
		Token:             cfg.Token,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init store client: %w", err)
	}
	return client, nil
}

func newVerifier(cfg ImportConfig, retryMax int, logger *slog.Logger) *verify.Verifier {
	return verify.New(verify.Options{
		Timeout:  cfg.VerifyTimeout,
		RetryMax: retryMax,
		Logger:   logger,
	})
}

func newFeed(cfg SourceConfig) (source.Feed, error) {
	switch cfg.Kind {
	case SourceKindDir:
		return &source.DirFeed{Dir: cfg.Dir, Pattern: cfg.Pattern}, nil
	case SourceKindS3:
		// Public dataset; requests are unsigned.
		client, err := source.NewS3Client(cfg.Region, true)
		if err != nil {
			return nil, fmt.Errorf("init s3 feed: %w", err)
		}
		return &source.S3Feed{
			Client:  client,
			Bucket:  cfg.Bucket,
			Prefix:  cfg.Prefix,
			Pattern: cfg.Pattern,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
