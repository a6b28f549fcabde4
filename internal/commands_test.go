package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/storestub"
)

func TestTree_ShowsImportedHierarchy(t *testing.T) {
	env := newRunEnv(t)
	if err := Run(context.Background(), env.opts()...); err != nil {
		t.Fatalf("Run: %v", err)
	}
	env.out.Reset()

	if err := Tree(context.Background(), 3, env.opts()...); err != nil {
		t.Fatalf("Tree: %v", err)
	}
	out := env.out.String()
	for _, want := range []string{storestub.AnchorPI, "institution", "collection", "Total entities"} {
		if !strings.Contains(out, want) {
			t.Errorf("tree output missing %q:\n%s", want, out)
		}
	}
}

func TestAppendChild(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()

	blob, _, err := env.client.UploadContent(ctx, []byte("{}"), "x.json")
	if err != nil {
		t.Fatal(err)
	}
	create := func() string {
		res, err := env.client.CreateEntity(ctx, entitystore.CreateRequest{Components: map[string]string{"meta": blob}})
		if err != nil {
			t.Fatal(err)
		}
		return res.PI
	}
	parent, child := create(), create()

	if err := AppendChild(ctx, parent, child, "", env.opts()...); err != nil {
		t.Fatalf("AppendChild: %v", err)
	}
	v, err := env.client.Read(ctx, parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.ChildrenPI) != 1 || v.ChildrenPI[0] != child || v.Ver != 2 {
		t.Errorf("parent = v%d children %v", v.Ver, v.ChildrenPI)
	}
	if !strings.Contains(env.out.String(), "v2") {
		t.Errorf("output = %q", env.out.String())
	}

	err = AppendChild(ctx, parent, "01MISSING", "", env.opts()...)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing child: want ErrNotFound, got %v", err)
	}
}

func TestEstimate(t *testing.T) {
	env := newRunEnv(t)
	if err := Estimate(context.Background(), 0, 10, env.opts()...); err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	out := env.out.String()
	// Four assets named a1.jpg, a2.jpg, b1.jpg, b2.jpg: six bytes each.
	if !strings.Contains(out, "24 B") {
		t.Errorf("estimate output:\n%s", out)
	}
}

func TestServeStub(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeStub(ctx, addr, WithLogger(quiet)) }()

	client, err := entitystore.New(fmt.Sprintf("http://%s", addr), entitystore.Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		h, err := client.Health(ctx)
		if err == nil {
			if h.Status == "" {
				t.Errorf("empty health status")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stub store never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("ServeStub: %v", err)
	}
}
