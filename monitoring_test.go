package confdb

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/confdb/value"
)

func TestCollector(t *testing.T) {
	e := setup(t, "", nil)
	sub := must(e.hub.Subscribe("/"))
	defer sub.Close()

	e.write("/a", "1")
	e.write("/a", "1")
	e.write("/b", "2")

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(e.w, e.hub))
	mfs := must(reg.Gather())

	got := make(map[string]float64)
	for _, mf := range mfs {
		m := mf.GetMetric()[0]
		switch {
		case m.Counter != nil:
			got[mf.GetName()] = m.GetCounter().GetValue()
		case m.Gauge != nil:
			got[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	deepEqual(t, got, map[string]float64{
		"confdb_writer_commits_total":      2,
		"confdb_writer_noop_total":         1,
		"confdb_writer_locked_total":       0,
		"confdb_writer_audit_errors_total": 0,
		"confdb_events_published_total":    2,
		"confdb_events_delivered_total":    2,
		"confdb_subscribers_dropped_total": 0,
		"confdb_subscribers":               1,
	})
}

func TestStatsWithoutAudit(t *testing.T) {
	e := setup(t, "", nil)
	e.w.Close()
	w := must(OpenWriter(e.st, WriterOptions{}))
	defer w.Close()
	must(w.Write(context.Background(), "/k", value.NewInt(1)))
	deepEqual(t, w.Stats(), WriterStats{Commits: 1})
}
