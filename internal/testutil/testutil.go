// Package testutil provides shared fixtures: feed records, shard files, an
// asset server, a stub entity store and a temporary journal.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/arkeimport/internal/entitystore"
	"github.com/starford/arkeimport/internal/journal"
	"github.com/starford/arkeimport/internal/storestub"
)

// Scenario ids shared by the end-to-end fixtures.
const (
	CollectionNaID = 7388842
	SeriesNaID     = 7585787
	ShardPattern   = "coll_WJC-NSCSW-%d.jsonl"
)

// Asset describes a digital object of a fixture record.
type Asset struct {
	ObjectID string
	Filename string
	URL      string
}

// Record returns the JSON of a file unit under the scenario collection and
// series.
func Record(t *testing.T, naID int64, assets ...Asset) json.RawMessage {
	t.Helper()
	return RecordUnder(t, naID, CollectionNaID, SeriesNaID, assets...)
}

// RecordUnder returns the JSON of a file unit under the given ancestors. A
// zero ancestor id omits that level.
func RecordUnder(t *testing.T, naID, collection, series int64, assets ...Asset) json.RawMessage {
	t.Helper()
	var ancestors []map[string]any
	if collection != 0 {
		ancestors = append(ancestors, map[string]any{
			"levelOfDescription":   "collection",
			"naId":                 collection,
			"title":                fmt.Sprintf("Collection %d", collection),
			"collectionIdentifier": "WJC-NSCSW",
			"inclusiveStartDate":   map[string]string{"logicalDate": "1993-01-01"},
			"inclusiveEndDate":     map[string]string{"logicalDate": "2001-12-31"},
		})
	}
	if series != 0 {
		ancestors = append(ancestors, map[string]any{
			"levelOfDescription": "series",
			"naId":               series,
			"title":              fmt.Sprintf("Series %d", series),
		})
	}
	objects := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		objects = append(objects, map[string]any{
			"objectId":       a.ObjectID,
			"objectFilename": a.Filename,
			"objectType":     "Image (JPG)",
			"objectUrl":      a.URL,
		})
	}
	rec := map[string]any{
		"naId":                naID,
		"title":               fmt.Sprintf("File unit %d", naID),
		"generalRecordsTypes": []string{"Textual Records"},
		"ancestors":           ancestors,
		"digitalObjects":      objects,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return data
}

// Line wraps a record as one feed line.
func Line(t *testing.T, record json.RawMessage) string {
	t.Helper()
	data, err := json.Marshal(map[string]json.RawMessage{"record": record})
	if err != nil {
		t.Fatalf("marshal line: %v", err)
	}
	return string(data)
}

// WriteShard writes shard n into dir using ShardPattern.
func WriteShard(t *testing.T, dir string, n int, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf(ShardPattern, n))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
}

// AssetServer serves /assets/{name} with the bytes of name. Names listed in
// failing answer 500.
type AssetServer struct {
	*httptest.Server
	Requests atomic.Int64
}

// NewAssetServer starts an AssetServer that is closed with the test.
func NewAssetServer(t *testing.T, failing ...string) *AssetServer {
	t.Helper()
	bad := make(map[string]bool, len(failing))
	for _, f := range failing {
		bad[f] = true
	}
	as := &AssetServer{}
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.Requests.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		if bad[name] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(name))
	}))
	t.Cleanup(as.Close)
	return as
}

// Asset returns a fixture asset served by the server.
func (as *AssetServer) Asset(objectID string) Asset {
	name := objectID + ".jpg"
	return Asset{ObjectID: objectID, Filename: name, URL: as.URL + "/assets/" + name}
}

// StubStore starts an in-memory entity store and a client pointed at it.
func StubStore(t *testing.T) (*storestub.Store, *entitystore.Client) {
	t.Helper()
	store := storestub.New()
	srv := httptest.NewServer(storestub.NewRouter(store))
	t.Cleanup(srv.Close)

	client, err := entitystore.New(srv.URL, entitystore.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("entitystore.New: %v", err)
	}
	return store, client
}

// Journal opens a journal in a temporary directory.
func Journal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}
