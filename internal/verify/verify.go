// Package verify streams remote assets through SHA-256 without holding them
// in memory.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/checksum"
)

// DefaultTimeout bounds one asset download.
const DefaultTimeout = 300 * time.Second

// Options configures a Verifier.
type Options struct {
	Timeout   time.Duration
	RetryMax  int
	ChunkSize int
	Logger    *slog.Logger
}

// Verifier computes content digests of remote assets.
type Verifier struct {
	client    *http.Client
	chunkSize int
	logger    *slog.Logger
}

// New returns a Verifier. Zero options fall back to a 300 s timeout, 8 KiB
// chunks and no retries.
func New(opts Options) *Verifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = checksum.ChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.RetryMax
	rc.Logger = logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Verifier{client: rc.StandardClient(), chunkSize: opts.ChunkSize, logger: logger}
}

// Verify downloads url and returns the lower-case hex SHA-256 of its body and
// the number of bytes read. Network faults, timeouts and non-2xx responses
// are apperr.ErrTransfer.
func (v *Verifier) Verify(ctx context.Context, url string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("verify %s: %w: %w", url, apperr.ErrTransfer, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("verify %s: %w: %w", url, apperr.ErrTransfer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("verify %s: %w: status %d", url, apperr.ErrTransfer, resp.StatusCode)
	}

	digest, n, err := checksum.SumReader(resp.Body, v.chunkSize)
	if err != nil {
		return "", 0, fmt.Errorf("verify %s: %w: %w", url, apperr.ErrTransfer, err)
	}
	return digest, n, nil
}

// VerifyReader digests r the same way Verify digests a response body.
func (v *Verifier) VerifyReader(r io.Reader) (string, int64, error) {
	return checksum.SumReader(r, v.chunkSize)
}

// Matches reports whether the asset at url hashes to expectedHex. A transfer
// failure reports false.
func (v *Verifier) Matches(ctx context.Context, url, expectedHex string) bool {
	digest, _, err := v.Verify(ctx, url)
	if err != nil {
		v.logger.Warn("hash check failed", slog.String("url", url), slog.String("error", err.Error()))
		return false
	}
	return strings.EqualFold(digest, expectedHex)
}

// Estimate is a sampled projection of the total download volume.
type Estimate struct {
	SampleCount    int   `json:"sample_count"`
	AvgSize        int64 `json:"avg_size"`
	EstimatedTotal int64 `json:"estimated_total"`
	URLCount       int   `json:"url_count"`
}

// EstimateTotalSize downloads a random sample of urls and projects the
// average size onto all of them. Failed samples are skipped; if every sample
// fails the estimate is zero.
func (v *Verifier) EstimateTotalSize(ctx context.Context, urls []string, sampleCount int) Estimate {
	est := Estimate{URLCount: len(urls)}
	if len(urls) == 0 || sampleCount <= 0 {
		return est
	}
	sample := urls
	if sampleCount < len(urls) {
		idx := rand.Perm(len(urls))[:sampleCount]
		sample = make([]string, 0, sampleCount)
		for _, i := range idx {
			sample = append(sample, urls[i])
		}
	}

	var total int64
	for _, u := range sample {
		if ctx.Err() != nil {
			break
		}
		_, n, err := v.Verify(ctx, u)
		if err != nil {
			v.logger.Warn("sample download failed", slog.String("url", u), slog.String("error", err.Error()))
			continue
		}
		total += n
		est.SampleCount++
	}
	if est.SampleCount == 0 {
		return est
	}
	est.AvgSize = total / int64(est.SampleCount)
	est.EstimatedTotal = est.AvgSize * int64(len(urls))
	return est
}
