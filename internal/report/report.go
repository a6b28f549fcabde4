// Package report renders end-of-run summaries for the terminal.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/starford/arkeimport/internal/importer"
	"github.com/starford/arkeimport/internal/verify"
)

// Summary writes the aggregate counters of a run as a table.
func Summary(w io.Writer, c importer.Counters, elapsed time.Duration) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Institutions", humanize.Comma(c.Institutions)},
		{"Collections", humanize.Comma(c.Collections)},
		{"Series", humanize.Comma(c.Series)},
		{"File units", humanize.Comma(c.FileUnits)},
		{"Digital objects", humanize.Comma(c.DigitalObjects)},
		{"Entities created", humanize.Comma(c.Created())},
		{"Bytes hashed", humanize.Bytes(uint64(max(c.BytesVerified, 0)))},
		{"Records processed", humanize.Comma(c.RecordsProcessed)},
		{"Records failed", humanize.Comma(c.RecordsFailed)},
		{"Errors", humanize.Comma(c.Errors)},
	})
	t.AppendFooter(table.Row{"Elapsed", elapsed.Round(time.Second).String()})
	t.Render()
}

// Estimate writes a download size estimate.
func Estimate(w io.Writer, e verify.Estimate) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Asset URLs", humanize.Comma(int64(e.URLCount))},
		{"Sampled", humanize.Comma(int64(e.SampleCount))},
		{"Average size", humanize.Bytes(uint64(max(e.AvgSize, 0)))},
		{"Estimated total", humanize.Bytes(uint64(max(e.EstimatedTotal, 0)))},
	})
	t.Render()
	if e.SampleCount == 0 && e.URLCount > 0 {
		fmt.Fprintln(w, "no sampled asset could be downloaded; estimate is zero")
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}
