package confdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WriterStats is a snapshot of a writer's counters.
type WriterStats struct {
	Commits   uint64
	NoOps     uint64
	Locked    uint64
	AuditErrs uint64
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Commits:   w.CommitCount.Load(),
		NoOps:     w.NoOpCount.Load(),
		Locked:    w.LockedCount.Load(),
		AuditErrs: w.AuditErrCount.Load(),
	}
}

type HubStats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Published:   h.PublishCount.Load(),
		Delivered:   h.DeliverCount.Load(),
		Dropped:     h.DropCount.Load(),
		Subscribers: h.Subscribers(),
	}
}

var (
	descCommits     = prometheus.NewDesc("confdb_writer_commits_total", "Transactions that changed the user database.", []string{"db"}, nil)
	descNoOps       = prometheus.NewDesc("confdb_writer_noop_total", "Transactions elided because they changed nothing.", []string{"db"}, nil)
	descLocked      = prometheus.NewDesc("confdb_writer_locked_total", "Transactions rejected because of locked keys.", []string{"db"}, nil)
	descAuditErrs   = prometheus.NewDesc("confdb_writer_audit_errors_total", "Committed transactions that could not be recorded in the audit log.", []string{"db"}, nil)
	descPublished   = prometheus.NewDesc("confdb_events_published_total", "Change events published.", nil, nil)
	descDelivered   = prometheus.NewDesc("confdb_events_delivered_total", "Change events queued to subscribers.", nil, nil)
	descDropped     = prometheus.NewDesc("confdb_subscribers_dropped_total", "Subscribers dropped for falling behind.", nil, nil)
	descSubscribers = prometheus.NewDesc("confdb_subscribers", "Live subscriptions.", nil, nil)
)

// Collector exports writer and hub counters to Prometheus. Either may be
// nil.
type Collector struct {
	w *Writer
	h *Hub
}

func NewCollector(w *Writer, h *Hub) *Collector {
	return &Collector{w, h}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.w != nil {
		ch <- descCommits
		ch <- descNoOps
		ch <- descLocked
		ch <- descAuditErrs
	}
	if c.h != nil {
		ch <- descPublished
		ch <- descDelivered
		ch <- descDropped
		ch <- descSubscribers
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.w != nil {
		s := c.w.Stats()
		db := c.w.src.Name
		ch <- prometheus.MustNewConstMetric(descCommits, prometheus.CounterValue, float64(s.Commits), db)
		ch <- prometheus.MustNewConstMetric(descNoOps, prometheus.CounterValue, float64(s.NoOps), db)
		ch <- prometheus.MustNewConstMetric(descLocked, prometheus.CounterValue, float64(s.Locked), db)
		ch <- prometheus.MustNewConstMetric(descAuditErrs, prometheus.CounterValue, float64(s.AuditErrs), db)
	}
	if c.h != nil {
		s := c.h.Stats()
		ch <- prometheus.MustNewConstMetric(descPublished, prometheus.CounterValue, float64(s.Published))
		ch <- prometheus.MustNewConstMetric(descDelivered, prometheus.CounterValue, float64(s.Delivered))
		ch <- prometheus.MustNewConstMetric(descDropped, prometheus.CounterValue, float64(s.Dropped))
		ch <- prometheus.MustNewConstMetric(descSubscribers, prometheus.GaugeValue, float64(s.Subscribers))
	}
}
