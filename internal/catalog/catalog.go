// Package catalog builds the schema-tagged catalog records uploaded to the
// entity store ahead of entity creation.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/arkeimport/internal/source"
)

// Schema tags a catalog record with its type and version.
type Schema string

const (
	SchemaInstitution   Schema = "nara-institution@v1"
	SchemaCollection    Schema = "nara-collection@v1"
	SchemaSeries        Schema = "nara-series@v1"
	SchemaFileUnit      Schema = "nara-fileunit@v1"
	SchemaDigitalObject Schema = "nara-digitalobject@v1"
)

// Component names under which catalog records are attached to entities.
const (
	ComponentCatalogRecord = "catalog_record"
	ComponentDigitalObject = "digital_object_metadata"
)

// Record is any catalog record.
type Record interface {
	SchemaName() Schema
	Validate() error
}

// Marshal validates rec and encodes it as compact JSON.
func Marshal(rec Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", rec.SchemaName(), err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("catalog: encode %s: %w", rec.SchemaName(), err)
	}
	return data, nil
}

func timestamp(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Institution describes the organisation anchoring the import.
type Institution struct {
	Schema          Schema `json:"schema"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	URL             string `json:"url,omitempty"`
	Location        string `json:"location,omitempty"`
	ImportTimestamp string `json:"import_timestamp"`
}

// InstitutionInfo is the configured description of the institution.
type InstitutionInfo struct {
	Name        string
	Description string
	URL         string
	Location    string
}

// NewInstitution builds the institution record.
func NewInstitution(info InstitutionInfo, now time.Time) *Institution {
	return &Institution{
		Schema:          SchemaInstitution,
		Name:            info.Name,
		Description:     info.Description,
		URL:             info.URL,
		Location:        info.Location,
		ImportTimestamp: timestamp(now),
	}
}

func (r *Institution) SchemaName() Schema { return r.Schema }

// Validate checks required fields.
func (r *Institution) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Schema, validation.Required, validation.In(SchemaInstitution)),
		validation.Field(&r.Name, validation.Required),
	)
}

// Collection is the top archival level.
type Collection struct {
	Schema               Schema           `json:"schema"`
	NaID                 int64            `json:"nara_naId"`
	CollectionIdentifier string           `json:"collection_identifier"`
	Title                string           `json:"title"`
	DateRange            source.DateRange `json:"date_range"`
	ImportTimestamp      string           `json:"import_timestamp"`
}

// NewCollection builds a collection record. collectionID is the configured
// collection identifier (e.g. "WJC-NSCSW"); the ancestor's own identifier
// wins when present.
func NewCollection(a *source.Ancestor, collectionID string, now time.Time) *Collection {
	if a.CollectionIdentifier != "" {
		collectionID = a.CollectionIdentifier
	}
	return &Collection{
		Schema:               SchemaCollection,
		NaID:                 a.NaID,
		CollectionIdentifier: collectionID,
		Title:                a.Title,
		DateRange:            a.DateRange,
		ImportTimestamp:      timestamp(now),
	}
}

func (r *Collection) SchemaName() Schema { return r.Schema }

// Validate checks required fields.
func (r *Collection) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Schema, validation.Required, validation.In(SchemaCollection)),
		validation.Field(&r.NaID, validation.Required),
		validation.Field(&r.CollectionIdentifier, validation.Required),
		validation.Field(&r.Title, validation.Required),
	)
}

// Series sits between a collection and its file units.
type Series struct {
	Schema          Schema           `json:"schema"`
	NaID            int64            `json:"nara_naId"`
	ParentNaID      int64            `json:"parent_naId"`
	Title           string           `json:"title"`
	DateRange       source.DateRange `json:"date_range"`
	Creators        json.RawMessage  `json:"creators,omitempty"`
	ImportTimestamp string           `json:"import_timestamp"`
}

// NewSeries builds a series record under collection.
func NewSeries(a, collection *source.Ancestor, now time.Time) *Series {
	return &Series{
		Schema:          SchemaSeries,
		NaID:            a.NaID,
		ParentNaID:      collection.NaID,
		Title:           a.Title,
		DateRange:       a.DateRange,
		Creators:        a.Creators,
		ImportTimestamp: timestamp(now),
	}
}

func (r *Series) SchemaName() Schema { return r.Schema }

// Validate checks required fields.
func (r *Series) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Schema, validation.Required, validation.In(SchemaSeries)),
		validation.Field(&r.NaID, validation.Required),
		validation.Field(&r.ParentNaID, validation.Required),
		validation.Field(&r.Title, validation.Required),
	)
}

// FileUnit is a document or folder; its digital objects are its pages.
type FileUnit struct {
	Schema             Schema          `json:"schema"`
	NaID               int64           `json:"nara_naId"`
	ParentNaID         int64           `json:"parent_naId"`
	CollectionNaID     int64           `json:"collection_naId"`
	Title              string          `json:"title"`
	Level              string          `json:"level"`
	RecordTypes        []string        `json:"record_types"`
	DigitalObjectCount int             `json:"digital_object_count"`
	AccessRestriction  json.RawMessage `json:"access_restriction,omitempty"`
	FOIATracking       string          `json:"foia_tracking,omitempty"`
	PhysicalLocation   json.RawMessage `json:"physical_location,omitempty"`
	OtherTitles        []string        `json:"other_titles,omitempty"`
	FullMetadata       json.RawMessage `json:"nara_full_metadata,omitempty"`
	ImportTimestamp    string          `json:"import_timestamp"`
}

// NewFileUnit builds the record for rec under the given ancestors.
func NewFileUnit(rec *source.Record, collection, series *source.Ancestor, now time.Time) *FileUnit {
	return &FileUnit{
		Schema:             SchemaFileUnit,
		NaID:               rec.NaID,
		ParentNaID:         series.NaID,
		CollectionNaID:     collection.NaID,
		Title:              rec.Title,
		Level:              "fileUnit",
		RecordTypes:        rec.RecordTypes,
		DigitalObjectCount: len(rec.Assets),
		AccessRestriction:  rec.AccessRestriction,
		FOIATracking:       rec.FOIATracking,
		PhysicalLocation:   rec.PhysicalLocation,
		OtherTitles:        rec.OtherTitles,
		FullMetadata:       rec.Raw,
		ImportTimestamp:    timestamp(now),
	}
}

func (r *FileUnit) SchemaName() Schema { return r.Schema }

// Validate checks required fields.
func (r *FileUnit) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Schema, validation.Required, validation.In(SchemaFileUnit)),
		validation.Field(&r.NaID, validation.Required),
		validation.Field(&r.ParentNaID, validation.Required),
		validation.Field(&r.CollectionNaID, validation.Required),
		validation.Field(&r.Title, validation.Required),
	)
}

// ContentHash records how an asset's bytes were digested.
type ContentHash struct {
	Algorithm string `json:"algorithm"`
	DigestHex string `json:"digest_hex"`
}

// NewSHA256 wraps a hex SHA-256 digest.
func NewSHA256(digestHex string) ContentHash {
	return ContentHash{Algorithm: "sha256", DigestHex: digestHex}
}

// DigitalObject references an asset by URL and digest; the asset bytes are
// never stored.
type DigitalObject struct {
	Schema          Schema          `json:"schema"`
	ObjectID        string          `json:"nara_objectId"`
	ParentNaID      int64           `json:"parent_naId"`
	Filename        string          `json:"filename"`
	ObjectType      string          `json:"object_type"`
	FileSize        int64           `json:"file_size"`
	URL             string          `json:"s3_url"`
	ContentHash     ContentHash     `json:"content_hash"`
	PageNumber      int             `json:"page_number,omitempty"`
	ExtractedText   string          `json:"extracted_text,omitempty"`
	FullMetadata    json.RawMessage `json:"nara_full_metadata,omitempty"`
	ImportTimestamp string          `json:"import_timestamp"`
}

// NewDigitalObject builds the record for page number page of the file unit
// parentNaID, embedding the verified digest and byte count.
func NewDigitalObject(a *source.Asset, parentNaID int64, page int, digestHex string, size int64, now time.Time) *DigitalObject {
	return &DigitalObject{
		Schema:          SchemaDigitalObject,
		ObjectID:        a.ObjectID,
		ParentNaID:      parentNaID,
		Filename:        a.Filename,
		ObjectType:      a.Type,
		FileSize:        size,
		URL:             a.URL,
		ContentHash:     NewSHA256(digestHex),
		PageNumber:      page,
		ExtractedText:   a.ExtractedText,
		FullMetadata:    a.Raw,
		ImportTimestamp: timestamp(now),
	}
}

func (r *DigitalObject) SchemaName() Schema { return r.Schema }

// Validate checks required fields.
func (r *DigitalObject) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Schema, validation.Required, validation.In(SchemaDigitalObject)),
		validation.Field(&r.ObjectID, validation.Required),
		validation.Field(&r.ParentNaID, validation.Required),
		validation.Field(&r.URL, validation.Required),
		validation.Field(&r.ContentHash),
	)
}

// Validate checks the digest is present.
func (h ContentHash) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Algorithm, validation.Required),
		validation.Field(&h.DigestHex, validation.Required, validation.Length(64, 64)),
	)
}
