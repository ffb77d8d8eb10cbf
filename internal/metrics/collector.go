package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	ActiveSessionCount() int
}

// InboxStats exposes the watch-folder backlog.
type InboxStats interface {
	PendingCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pipeline PipelineStats
	inbox    InboxStats

	activeSessions *prometheus.Desc
	inboxPending   *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Either source may be nil; its gauges report 0.
func NewCollector(pipeline PipelineStats, inbox InboxStats) *Collector {
	return &Collector{
		pipeline: pipeline,
		inbox:    inbox,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_sessions"),
			"Current number of sessions not yet complete or failed.",
			nil, nil,
		),
		inboxPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "inbox", "pending_files"),
			"Watch-folder files waiting to be processed.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.inboxPending
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.pipeline != nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(c.pipeline.ActiveSessionCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, 0)
	}

	if c.inbox != nil {
		ch <- prometheus.MustNewConstMetric(c.inboxPending, prometheus.GaugeValue, float64(c.inbox.PendingCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.inboxPending, prometheus.GaugeValue, 0)
	}
}
