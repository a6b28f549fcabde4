package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/starford/arkeimport/internal/apperr"
)

const sampleRecord = `{
  "naId": 23902919,
  "title": "Clinton - Address on Haiti 9/15/94",
  "generalRecordsTypes": ["Textual Records"],
  "accessRestriction": {"status": "Unrestricted"},
  "variantControlNumbers": [
    {"type": "Other", "number": "x"},
    {"type": "FOIA Tracking Number", "number": "2006-0469-F"}
  ],
  "physicalOccurrences": [{"referenceUnit": "Clinton Library"}],
  "ancestors": [
    {"levelOfDescription": "collection", "naId": 7388842, "title": "NSC Speechwriting",
     "collectionIdentifier": "WJC-NSCSW",
     "inclusiveStartDate": {"logicalDate": "1993-01-01"},
     "inclusiveEndDate": {"logicalDate": "2001-12-31"}},
    {"levelOfDescription": "series", "naId": 7585787, "title": "Antony Blinken's Files",
     "creators": [{"heading": "Blinken"}]},
    {"levelOfDescription": "recordGroup", "naId": 1}
  ],
  "digitalObjects": [
    {"objectId": "55251313", "objectFilename": "p1.jpg", "objectType": "Image (JPG)",
     "objectUrl": "https://example.org/p1.jpg", "objectFileSize": 401408},
    {"objectId": 55251314, "objectFilename": "p2.jpg", "objectType": "Image (JPG)",
     "objectUrl": "https://example.org/p2.jpg", "extractedText": "page two"}
  ]
}`

func TestDecode_FullRecord(t *testing.T) {
	r, err := Decode([]byte(sampleRecord))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.SourceID() != "23902919" {
		t.Errorf("SourceID = %q", r.SourceID())
	}
	if r.FOIATracking != "2006-0469-F" {
		t.Errorf("FOIATracking = %q", r.FOIATracking)
	}
	if len(r.Ancestors) != 2 {
		t.Fatalf("ancestors = %d, want 2 (unknown levels dropped)", len(r.Ancestors))
	}
	coll, series, err := r.Hierarchy()
	if err != nil {
		t.Fatalf("Hierarchy: %v", err)
	}
	if coll.NaID != 7388842 || coll.DateRange.Start != "1993-01-01" || coll.DateRange.End != "2001-12-31" {
		t.Errorf("collection = %+v", coll)
	}
	if series.NaID != 7585787 || len(series.Creators) == 0 {
		t.Errorf("series = %+v", series)
	}
	if len(r.Assets) != 2 {
		t.Fatalf("assets = %d", len(r.Assets))
	}
	if r.Assets[1].ObjectID != "55251314" {
		t.Errorf("numeric objectId not normalised: %q", r.Assets[1].ObjectID)
	}
	if r.Assets[0].FileSize == nil || *r.Assets[0].FileSize != 401408 {
		t.Errorf("file size = %v", r.Assets[0].FileSize)
	}
	if r.Assets[1].ExtractedText != "page two" {
		t.Errorf("extracted text = %q", r.Assets[1].ExtractedText)
	}
	if len(r.PhysicalLocation) == 0 {
		t.Error("physical location missing")
	}
	if urls := r.AssetURLs(); len(urls) != 2 {
		t.Errorf("AssetURLs = %v", urls)
	}
}

func TestDecode_DefaultsTitle(t *testing.T) {
	r, err := Decode([]byte(`{"naId": 5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Title != "Untitled" {
		t.Errorf("Title = %q", r.Title)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"bad json":         `{"naId":`,
		"missing naId":     `{"title": "x"}`,
		"ancestor no naId": `{"naId": 1, "ancestors": [{"levelOfDescription": "series"}]}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		if !errors.Is(err, apperr.ErrMalformedRecord) {
			t.Errorf("%s: err = %v, want ErrMalformedRecord", name, err)
		}
	}
}

func TestDecode_PartialObject(t *testing.T) {
	raw := `{"naId": 5, "digitalObjects": [
	  {"objectId": "9", "objectUrl": "https://example.org/9.jpg", "objectFileSize": "12 KB"},
	  {"objectId": "10", "objectUrl": "https://example.org/10.jpg"}]}`
	rec, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rec.Assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(rec.Assets))
	}
	a := rec.Assets[0]
	if a.DecodeErr == nil {
		t.Error("string objectFileSize should be reported")
	}
	if a.ObjectID != "9" || a.URL != "https://example.org/9.jpg" || a.FileSize != nil {
		t.Errorf("partial asset = %+v", a)
	}
	if rec.Assets[1].DecodeErr != nil {
		t.Errorf("clean asset reported %v", rec.Assets[1].DecodeErr)
	}
}

func TestHierarchy_MissingLevels(t *testing.T) {
	r, err := Decode([]byte(`{"naId": 9, "ancestors": [{"levelOfDescription": "collection", "naId": 1}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, _, err = r.Hierarchy()
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MalformedError", err)
	}
	if me.SourceID != "9" || !strings.Contains(me.Reason, "series") {
		t.Errorf("error = %+v", me)
	}

	r, _ = Decode([]byte(`{"naId": 9, "ancestors": [{"levelOfDescription": "series", "naId": 2}]}`))
	if _, _, err := r.Hierarchy(); !errors.Is(err, apperr.ErrMalformedRecord) || !strings.Contains(err.Error(), "collection") {
		t.Errorf("err = %v", err)
	}
}
