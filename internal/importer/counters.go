package importer

import "sync/atomic"

// Counters is a point-in-time copy of the engine's tallies.
type Counters struct {
	Institutions     int64 `json:"institutions"`
	Collections      int64 `json:"collections"`
	Series           int64 `json:"series"`
	FileUnits        int64 `json:"fileunits"`
	DigitalObjects   int64 `json:"digitalobjects"`
	BytesVerified    int64 `json:"bytes_hashed"`
	Errors           int64 `json:"errors"`
	RecordsProcessed int64 `json:"records_processed"`
	RecordsFailed    int64 `json:"records_failed"`
}

// Created sums the per-level creation counts.
func (c Counters) Created() int64 {
	return c.Institutions + c.Collections + c.Series + c.FileUnits + c.DigitalObjects
}

type counters struct {
	institutions     atomic.Int64
	collections      atomic.Int64
	series           atomic.Int64
	fileUnits        atomic.Int64
	digitalObjects   atomic.Int64
	bytesVerified    atomic.Int64
	errors           atomic.Int64
	recordsProcessed atomic.Int64
	recordsFailed    atomic.Int64
}

func (c *counters) created(level Level) {
	switch level {
	case LevelInstitution:
		c.institutions.Add(1)
	case LevelCollection:
		c.collections.Add(1)
	case LevelSeries:
		c.series.Add(1)
	case LevelFileUnit:
		c.fileUnits.Add(1)
	case LevelDigitalObject:
		c.digitalObjects.Add(1)
	}
}

// Counters returns a snapshot of the tallies.
func (e *Engine) Counters() Counters {
	c := &e.counters
	return Counters{
		Institutions:     c.institutions.Load(),
		Collections:      c.collections.Load(),
		Series:           c.series.Load(),
		FileUnits:        c.fileUnits.Load(),
		DigitalObjects:   c.digitalObjects.Load(),
		BytesVerified:    c.bytesVerified.Load(),
		Errors:           c.errors.Load(),
		RecordsProcessed: c.recordsProcessed.Load(),
		RecordsFailed:    c.recordsFailed.Load(),
	}
}

// CountError adds failures that happened outside the engine, such as feed
// lines that could not be decoded.
func (e *Engine) CountError(recordFailed bool) {
	e.counters.errors.Add(1)
	if recordFailed {
		e.counters.recordsFailed.Add(1)
	}
}
