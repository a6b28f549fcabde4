package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/starford/arkeimport/internal/apperr"
)

// Feed opens numbered shards of the bulk catalog feed.
type Feed interface {
	// Open returns the decompressed newline-delimited content of shard n.
	Open(ctx context.Context, n int) (io.ReadCloser, error)
}

// Load opens shard n from feed and splits it into entries.
func Load(ctx context.Context, feed Feed, n int) (*Shard, error) {
	rc, err := feed.Open(ctx, n)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadShard(n, rc)
}

// ShardName renders the object name of shard n from pattern, which holds a
// single %d verb (e.g. "coll_WJC-NSCSW-%d.jsonl").
func ShardName(pattern string, n int) string {
	return fmt.Sprintf(pattern, n)
}

// DirFeed reads shards from a local directory.
type DirFeed struct {
	Dir     string
	Pattern string
}

// Open implements Feed.
func (f *DirFeed) Open(_ context.Context, n int) (io.ReadCloser, error) {
	name := ShardName(f.Pattern, n)
	file, err := os.Open(filepath.Join(f.Dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("source: shard %d (%s): %w", n, name, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("source: open shard %d: %w", n, err)
	}
	return decompress(name, file)
}

// S3Feed reads shards from an S3 bucket.
type S3Feed struct {
	Client  s3iface.S3API
	Bucket  string
	Prefix  string
	Pattern string
}

// NewS3Client returns an S3 client for region. With anonymous set, requests
// are unsigned, which public datasets require.
func NewS3Client(region string, anonymous bool) (s3iface.S3API, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if anonymous {
		cfg = cfg.WithCredentials(credentials.AnonymousCredentials)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("source: aws session: %w", err)
	}
	return s3.New(sess), nil
}

// Open implements Feed.
func (f *S3Feed) Open(ctx context.Context, n int) (io.ReadCloser, error) {
	key := path.Join(f.Prefix, ShardName(f.Pattern, n))
	out, err := f.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, fmt.Errorf("source: s3://%s/%s: %w", f.Bucket, key, apperr.ErrNotFound)
			}
		}
		return nil, fmt.Errorf("source: s3://%s/%s: %w: %v", f.Bucket, key, apperr.ErrTransfer, err)
	}
	return decompress(key, out.Body)
}

// decompress wraps rc according to the extension of name.
func decompress(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("source: gzip %s: %w", name, err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("source: zstd %s: %w", name, err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zstdCloser{zr}, rc}}, nil
	default:
		return rc, nil
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
