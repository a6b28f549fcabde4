package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starford/arkeimport/internal/importer"
	"github.com/starford/arkeimport/internal/pipeline"
)

// collector exposes a Source as prometheus metrics, read at scrape time.
type collector struct {
	src Source

	created *prometheus.Desc
	bytes   *prometheus.Desc
	errors  *prometheus.Desc
	records *prometheus.Desc
	cursor  *prometheus.Desc
	ledger  *prometheus.Desc
	phase   *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		src: src,
		created: prometheus.NewDesc("arkeimport_entities_created_total",
			"Entities created in the store, by level.", []string{"level"}, nil),
		bytes: prometheus.NewDesc("arkeimport_bytes_hashed_total",
			"Asset bytes streamed through the content verifier.", nil, nil),
		errors: prometheus.NewDesc("arkeimport_errors_total",
			"Record and asset failures.", nil, nil),
		records: prometheus.NewDesc("arkeimport_records_total",
			"Records attempted, by outcome.", []string{"outcome"}, nil),
		cursor: prometheus.NewDesc("arkeimport_cursor",
			"Current shard and record position.", []string{"axis"}, nil),
		ledger: prometheus.NewDesc("arkeimport_ledger_entries",
			"Source ids mapped in the identity ledger.", nil, nil),
		phase: prometheus.NewDesc("arkeimport_run_phase",
			"1 for the current run phase.", []string{"phase"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.created
	ch <- c.bytes
	ch <- c.errors
	ch <- c.records
	ch <- c.cursor
	ch <- c.ledger
	ch <- c.phase
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	n := st.Counters
	for level, v := range map[importer.Level]int64{
		importer.LevelInstitution:   n.Institutions,
		importer.LevelCollection:    n.Collections,
		importer.LevelSeries:        n.Series,
		importer.LevelFileUnit:      n.FileUnits,
		importer.LevelDigitalObject: n.DigitalObjects,
	} {
		ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(v), string(level))
	}
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(n.BytesVerified))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n.Errors))
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(n.RecordsProcessed), "imported")
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(n.RecordsFailed), "failed")
	ch <- prometheus.MustNewConstMetric(c.cursor, prometheus.GaugeValue, float64(st.Shard), "shard")
	ch <- prometheus.MustNewConstMetric(c.cursor, prometheus.GaugeValue, float64(st.Record), "record")
	ch <- prometheus.MustNewConstMetric(c.ledger, prometheus.GaugeValue, float64(st.LedgerSize))
	for _, p := range []pipeline.Phase{pipeline.PhaseStarting, pipeline.PhaseRunning, pipeline.PhaseCompleted, pipeline.PhaseInterrupted, pipeline.PhaseFailed} {
		v := 0.0
		if st.Phase == p {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, v, string(p))
	}
}

// NewRegistry returns a registry with the run collector plus the standard
// Go and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
