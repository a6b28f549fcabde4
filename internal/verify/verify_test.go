package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/arkeimport/internal/apperr"
)

const helloDigest = "7509e5bda0c762d2bac7f90d758b5b2263fa01ccbc542ab5e3df163be08e6ca9"

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello world!"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerify(t *testing.T) {
	srv := assetServer(t)
	v := New(Options{Timeout: 5 * time.Second, ChunkSize: 4})

	digest, n, err := v.Verify(context.Background(), srv.URL+"/hello")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if digest != helloDigest {
		t.Errorf("digest = %s", digest)
	}
	if n != 12 {
		t.Errorf("n = %d, want 12", n)
	}
}

func TestVerifyReaderMatchesVerify(t *testing.T) {
	v := New(Options{})
	digest, n, err := v.VerifyReader(strings.NewReader("hello world!"))
	if err != nil {
		t.Fatal(err)
	}
	if digest != helloDigest || n != 12 {
		t.Errorf("VerifyReader = %s, %d", digest, n)
	}
}

func TestVerifyTransferErrors(t *testing.T) {
	srv := assetServer(t)
	v := New(Options{Timeout: 5 * time.Second})

	for _, path := range []string{"/broken", "/missing"} {
		_, _, err := v.Verify(context.Background(), srv.URL+path)
		if !errors.Is(err, apperr.ErrTransfer) {
			t.Errorf("%s: err = %v, want transfer", path, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := v.Verify(ctx, srv.URL+"/hello"); !errors.Is(err, apperr.ErrTransfer) {
		t.Errorf("cancelled: err = %v, want transfer", err)
	}
}

func TestMatches(t *testing.T) {
	srv := assetServer(t)
	v := New(Options{Timeout: 5 * time.Second})
	ctx := context.Background()

	if !v.Matches(ctx, srv.URL+"/hello", strings.ToUpper(helloDigest)) {
		t.Error("expected case-insensitive match")
	}
	if v.Matches(ctx, srv.URL+"/hello", strings.Repeat("0", 64)) {
		t.Error("unexpected match")
	}
	if v.Matches(ctx, srv.URL+"/broken", helloDigest) {
		t.Error("transfer failure should not match")
	}
}

func TestEstimateTotalSize(t *testing.T) {
	srv := assetServer(t)
	v := New(Options{Timeout: 5 * time.Second})
	ctx := context.Background()

	urls := []string{srv.URL + "/big", srv.URL + "/big", srv.URL + "/broken"}
	est := v.EstimateTotalSize(ctx, urls, 10)
	if est.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", est.SampleCount)
	}
	if est.AvgSize != 100 {
		t.Errorf("avg = %d, want 100", est.AvgSize)
	}
	if est.EstimatedTotal != 300 || est.URLCount != 3 {
		t.Errorf("estimate = %+v", est)
	}

	est = v.EstimateTotalSize(ctx, []string{srv.URL + "/broken"}, 1)
	if est.SampleCount != 0 || est.EstimatedTotal != 0 {
		t.Errorf("all-failed estimate = %+v, want zero", est)
	}

	est = v.EstimateTotalSize(ctx, urls, 1)
	if est.URLCount != 3 || est.SampleCount > 1 {
		t.Errorf("sampled estimate = %+v", est)
	}
}
