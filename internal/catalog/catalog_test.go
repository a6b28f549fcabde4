package catalog

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/starford/arkeimport/internal/source"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func decodeMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func TestMarshal_Collection(t *testing.T) {
	a := &source.Ancestor{Level: source.LevelCollection, NaID: 7388842, Title: "NSC Speechwriting",
		DateRange: source.DateRange{Start: "1993-01-01", End: "2001-12-31"}}
	data, err := Marshal(NewCollection(a, "WJC-NSCSW", fixedNow))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m := decodeMap(t, data)
	if m["schema"] != string(SchemaCollection) {
		t.Errorf("schema = %v", m["schema"])
	}
	if m["nara_naId"] != float64(7388842) || m["collection_identifier"] != "WJC-NSCSW" {
		t.Errorf("record = %v", m)
	}
	if m["import_timestamp"] != "2025-03-04T05:06:07.000000Z" {
		t.Errorf("timestamp = %v", m["import_timestamp"])
	}
}

func TestMarshal_SeriesOmitsEmptyCreators(t *testing.T) {
	coll := &source.Ancestor{NaID: 1, Title: "c"}
	s := &source.Ancestor{NaID: 2, Title: "s"}
	data, err := Marshal(NewSeries(s, coll, fixedNow))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "creators") {
		t.Errorf("unexpected creators key: %s", data)
	}
	if decodeMap(t, data)["parent_naId"] != float64(1) {
		t.Errorf("parent missing: %s", data)
	}
}

func TestMarshal_FileUnit(t *testing.T) {
	rec := &source.Record{
		NaID:         23902919,
		Title:        "Address on Haiti",
		RecordTypes:  []string{"Textual Records"},
		FOIATracking: "2006-0469-F",
		Assets:       make([]source.Asset, 3),
		Raw:          json.RawMessage(`{"naId":23902919}`),
	}
	data, err := Marshal(NewFileUnit(rec, &source.Ancestor{NaID: 7388842}, &source.Ancestor{NaID: 7585787}, fixedNow))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m := decodeMap(t, data)
	if m["digital_object_count"] != float64(3) || m["level"] != "fileUnit" {
		t.Errorf("record = %v", m)
	}
	if m["parent_naId"] != float64(7585787) || m["collection_naId"] != float64(7388842) {
		t.Errorf("links = %v", m)
	}
	if _, ok := m["nara_full_metadata"].(map[string]any); !ok {
		t.Errorf("full metadata not embedded: %v", m["nara_full_metadata"])
	}
}

func TestMarshal_DigitalObject(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	a := &source.Asset{ObjectID: "55251313", Filename: "p1.jpg", Type: "Image (JPG)",
		URL: "https://example.org/p1.jpg", ExtractedText: "ocr"}
	data, err := Marshal(NewDigitalObject(a, 23902919, 4, digest, 12, fixedNow))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m := decodeMap(t, data)
	hash, _ := m["content_hash"].(map[string]any)
	if hash["algorithm"] != "sha256" || hash["digest_hex"] != digest {
		t.Errorf("content_hash = %v", hash)
	}
	if m["page_number"] != float64(4) || m["file_size"] != float64(12) || m["extracted_text"] != "ocr" {
		t.Errorf("record = %v", m)
	}
}

func TestMarshal_RejectsMissingFields(t *testing.T) {
	cases := []Record{
		NewInstitution(InstitutionInfo{}, fixedNow),
		NewCollection(&source.Ancestor{NaID: 1}, "", fixedNow),
		NewDigitalObject(&source.Asset{ObjectID: "1", URL: "u"}, 1, 1, "short", 1, fixedNow),
		NewDigitalObject(&source.Asset{ObjectID: "1"}, 1, 1, strings.Repeat("0", 64), 1, fixedNow),
	}
	for i, rec := range cases {
		if _, err := Marshal(rec); err == nil {
			t.Errorf("case %d (%s): expected validation error", i, rec.SchemaName())
		}
	}
}
