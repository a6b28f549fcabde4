package entitystore_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/storestub"
)

func testClient(t *testing.T) (*entitystore.Client, *storestub.Store) {
	t.Helper()
	store := storestub.New()
	srv := httptest.NewServer(storestub.NewRouter(store))
	t.Cleanup(srv.Close)

	c, err := entitystore.New(srv.URL, entitystore.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, store
}

func TestHealth(t *testing.T) {
	c, _ := testClient(t)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q", h.Status)
	}
}

func TestUploadAndCreate(t *testing.T) {
	ctx := context.Background()
	c, store := testClient(t)

	cid, size, err := c.UploadJSON(ctx, map[string]string{"schema": "nara-institution@v1"}, "institution.json")
	if err != nil {
		t.Fatalf("UploadJSON: %v", err)
	}
	if size == 0 || cid == "" {
		t.Fatalf("cid = %q size = %d", cid, size)
	}
	data, err := c.Download(ctx, cid)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != `{"schema":"nara-institution@v1"}` {
		t.Errorf("blob = %s", data)
	}

	anchor, err := c.Anchor(ctx)
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	res, err := c.CreateEntity(ctx, entitystore.CreateRequest{
		Components: map[string]string{"catalog_record": cid},
		ParentPI:   anchor.PI,
		Note:       "Institution: National Archives",
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if res.Ver != 1 || res.Tip == "" {
		t.Errorf("result = %+v", res)
	}

	v, err := c.Read(ctx, res.PI)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Components["catalog_record"] != cid {
		t.Errorf("components = %v", v.Components)
	}
	if v.ParentPI != anchor.PI {
		t.Errorf("parent = %q", v.ParentPI)
	}

	r, err := c.Resolve(ctx, res.PI)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Tip != res.Tip {
		t.Errorf("tip = %q, want %q", r.Tip, res.Tip)
	}
	if store.CountNotes("Institution:") != 1 {
		t.Errorf("institution not stored")
	}
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()
	c, _ := testClient(t)

	_, err := c.Read(ctx, "01MISSING")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Read missing err = %v, want not found", err)
	}
	var apiErr *entitystore.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message == "" {
		t.Errorf("api error = %+v", apiErr)
	}

	ok, err := c.Probe(ctx, "01MISSING")
	if err != nil || ok {
		t.Errorf("Probe = %v, %v; want false, nil", ok, err)
	}

	_, err = c.CreateEntity(ctx, entitystore.CreateRequest{Components: map[string]string{"x": "sha256-unknown"}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("create with unknown blob err = %v, want validation", err)
	}
}

func TestAppendVersionConflict(t *testing.T) {
	ctx := context.Background()
	c, _ := testClient(t)

	res, err := c.CreateEntity(ctx, entitystore.CreateRequest{Note: "parent"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.AppendVersion(ctx, res.PI, entitystore.AppendRequest{ExpectTip: res.Tip, ChildrenPIAdd: []string{"01CHILD"}}); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	_, err = c.AppendVersion(ctx, res.PI, entitystore.AppendRequest{ExpectTip: res.Tip, ChildrenPIAdd: []string{"01OTHER"}})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale append err = %v, want conflict", err)
	}
}

func TestEachEntityPages(t *testing.T) {
	ctx := context.Background()
	c, _ := testClient(t)
	for i := 0; i < 5; i++ {
		if _, err := c.CreateEntity(ctx, entitystore.CreateRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	n := 0
	if err := c.EachEntity(ctx, 2, func(entitystore.ListedEntity) error { n++; return nil }); err != nil {
		t.Fatalf("EachEntity: %v", err)
	}
	if n != 6 {
		t.Errorf("visited %d entities, want 6 (5 + anchor)", n)
	}
}

func TestCreateIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := entitystore.New(srv.URL, entitystore.Options{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.CreateEntity(context.Background(), entitystore.CreateRequest{})
	if !errors.Is(err, apperr.ErrAPI) {
		t.Errorf("err = %v, want api error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("create sent %d times, want 1", calls.Load())
	}

	calls.Store(0)
	_, err = c.Read(context.Background(), "01X")
	if !errors.Is(err, apperr.ErrAPI) {
		t.Errorf("read err = %v, want api error", err)
	}
	if calls.Load() != 4 {
		t.Errorf("read sent %d times, want 4", calls.Load())
	}
}

func TestTransferError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := entitystore.New(url, entitystore.Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Health(context.Background()); !errors.Is(err, apperr.ErrTransfer) {
		t.Errorf("err = %v, want transfer", err)
	}
}

func TestRequiresAbsoluteURL(t *testing.T) {
	if _, err := entitystore.New("localhost", entitystore.Options{}); err == nil {
		t.Error("expected error for relative url")
	}
}
