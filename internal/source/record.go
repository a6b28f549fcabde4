// Package source decodes records from the bulk catalog feed.
package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/arkeimport/internal/apperr"
)

// Level is the level of description of an ancestor.
type Level string

const (
	LevelCollection Level = "collection"
	LevelSeries     Level = "series"
)

// foiaTrackingType is the variant control number type carrying FOIA numbers.
const foiaTrackingType = "FOIA Tracking Number"

// Record is one file unit from the feed. It is immutable once decoded.
type Record struct {
	NaID              int64
	Title             string
	Ancestors         []Ancestor
	Assets            []Asset
	RecordTypes       []string
	AccessRestriction json.RawMessage
	FOIATracking      string
	PhysicalLocation  json.RawMessage
	OtherTitles       []string
	// Raw is the record exactly as it appeared in the feed.
	Raw json.RawMessage
}

// SourceID is the ledger key of the file unit.
func (r *Record) SourceID() string { return strconv.FormatInt(r.NaID, 10) }

// Ancestor describes a collection or series above a file unit.
type Ancestor struct {
	Level                Level
	NaID                 int64
	Title                string
	CollectionIdentifier string
	DateRange            DateRange
	Creators             json.RawMessage
}

// SourceID is the ledger key of the ancestor.
func (a *Ancestor) SourceID() string { return strconv.FormatInt(a.NaID, 10) }

// DateRange holds logical start and end dates (YYYY-MM-DD, possibly empty).
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Asset is a digital object attached to a file unit.
type Asset struct {
	ObjectID      string
	Filename      string
	Type          string
	URL           string
	FileSize      *int64
	ExtractedText string
	Raw           json.RawMessage
	// DecodeErr is set when the object did not decode cleanly. Fields that
	// did decode are kept.
	DecodeErr error
}

// MalformedError reports a record that cannot be imported as-is.
type MalformedError struct {
	SourceID string
	Reason   string
}

func (e *MalformedError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("malformed record: %s", e.Reason)
	}
	return fmt.Sprintf("malformed record %s: %s", e.SourceID, e.Reason)
}

func (e *MalformedError) Unwrap() error { return apperr.ErrMalformedRecord }

// Hierarchy returns the collection and series ancestors. Both are required.
func (r *Record) Hierarchy() (collection, series *Ancestor, err error) {
	for i := range r.Ancestors {
		a := &r.Ancestors[i]
		switch a.Level {
		case LevelCollection:
			collection = a
		case LevelSeries:
			series = a
		}
	}
	if collection == nil {
		return nil, nil, &MalformedError{SourceID: r.SourceID(), Reason: "missing collection ancestor"}
	}
	if series == nil {
		return nil, nil, &MalformedError{SourceID: r.SourceID(), Reason: "missing series ancestor"}
	}
	return collection, series, nil
}

// AssetURLs returns the remote URLs of every asset, in source order.
func (r *Record) AssetURLs() []string {
	out := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		if a.URL != "" {
			out = append(out, a.URL)
		}
	}
	return out
}

// Decode parses and validates a raw feed record.
func Decode(raw json.RawMessage) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &MalformedError{Reason: err.Error()}
	}
	if err := w.Validate(); err != nil {
		return nil, &MalformedError{SourceID: strconv.FormatInt(w.NaID, 10), Reason: err.Error()}
	}
	return w.record(raw), nil
}

type wireDate struct {
	LogicalDate string `json:"logicalDate"`
}

type wireAncestor struct {
	LevelOfDescription   string          `json:"levelOfDescription"`
	NaID                 int64           `json:"naId"`
	Title                string          `json:"title"`
	CollectionIdentifier string          `json:"collectionIdentifier"`
	InclusiveStartDate   *wireDate       `json:"inclusiveStartDate"`
	InclusiveEndDate     *wireDate       `json:"inclusiveEndDate"`
	Creators             json.RawMessage `json:"creators"`
}

func (a wireAncestor) Validate() error {
	if a.LevelOfDescription != string(LevelCollection) && a.LevelOfDescription != string(LevelSeries) {
		return nil
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.NaID, validation.Required, validation.Min(int64(1))),
	)
}

type wireVariant struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type wireObject struct {
	ObjectID       flexString `json:"objectId"`
	ObjectFilename string     `json:"objectFilename"`
	ObjectType     string     `json:"objectType"`
	ObjectURL      string     `json:"objectUrl"`
	ObjectFileSize *int64     `json:"objectFileSize"`
	ExtractedText  string     `json:"extractedText"`
}

type wireRecord struct {
	NaID                  int64             `json:"naId"`
	Title                 string            `json:"title"`
	Ancestors             []wireAncestor    `json:"ancestors"`
	DigitalObjects        []json.RawMessage `json:"digitalObjects"`
	GeneralRecordsTypes   []string          `json:"generalRecordsTypes"`
	AccessRestriction     json.RawMessage   `json:"accessRestriction"`
	VariantControlNumbers []wireVariant     `json:"variantControlNumbers"`
	PhysicalOccurrences   []json.RawMessage `json:"physicalOccurrences"`
	OtherTitles           []string          `json:"otherTitles"`
}

func (w *wireRecord) Validate() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.NaID, validation.Required, validation.Min(int64(1))),
		validation.Field(&w.Ancestors),
	)
}

func (w *wireRecord) record(raw json.RawMessage) *Record {
	r := &Record{
		NaID:              w.NaID,
		Title:             w.Title,
		RecordTypes:       w.GeneralRecordsTypes,
		AccessRestriction: nullToNil(w.AccessRestriction),
		OtherTitles:       w.OtherTitles,
		Raw:               raw,
	}
	if r.Title == "" {
		r.Title = "Untitled"
	}
	if r.RecordTypes == nil {
		r.RecordTypes = []string{}
	}
	for _, v := range w.VariantControlNumbers {
		if v.Type == foiaTrackingType {
			r.FOIATracking = v.Number
			break
		}
	}
	if len(w.PhysicalOccurrences) > 0 {
		r.PhysicalLocation = nullToNil(w.PhysicalOccurrences[0])
	}
	for _, a := range w.Ancestors {
		level := Level(a.LevelOfDescription)
		if level != LevelCollection && level != LevelSeries {
			continue
		}
		anc := Ancestor{
			Level:                level,
			NaID:                 a.NaID,
			Title:                a.Title,
			CollectionIdentifier: a.CollectionIdentifier,
			Creators:             nullToNil(a.Creators),
		}
		if a.InclusiveStartDate != nil {
			anc.DateRange.Start = a.InclusiveStartDate.LogicalDate
		}
		if a.InclusiveEndDate != nil {
			anc.DateRange.End = a.InclusiveEndDate.LogicalDate
		}
		r.Ancestors = append(r.Ancestors, anc)
	}
	for _, rawObj := range w.DigitalObjects {
		// Undecodable objects still occupy a page slot; they fail later
		// as per-asset errors.
		var o wireObject
		decodeErr := json.Unmarshal(rawObj, &o)
		r.Assets = append(r.Assets, Asset{
			ObjectID:      string(o.ObjectID),
			Filename:      o.ObjectFilename,
			Type:          o.ObjectType,
			URL:           o.ObjectURL,
			FileSize:      o.ObjectFileSize,
			ExtractedText: o.ExtractedText,
			Raw:           rawObj,
			DecodeErr:     decodeErr,
		})
	}
	return r
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
