package replika

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReplicaCollector exposes a replica's live sizes to prometheus. The
// optional locker serializes Collect against the host's mutations; pass
// the same lock the host uses to guard the replica.
type ReplicaCollector struct {
	replica *Replica
	lock    sync.Locker

	crdts       *prometheus.Desc
	contextDots *prometheus.Desc
	logEntries  *prometheus.Desc
}

func NewReplicaCollector(replica *Replica, lock sync.Locker) *ReplicaCollector {
	labels := prometheus.Labels{"replica": replica.ID().String()}
	return &ReplicaCollector{
		replica: replica,
		lock:    lock,

		crdts: prometheus.NewDesc(
			"replika_crdts",
			"Number of CRDT instances bound on the replica",
			nil, labels,
		),
		contextDots: prometheus.NewDesc(
			"replika_context_dots",
			"Number of observed events in the causal context",
			nil, labels,
		),
		logEntries: prometheus.NewDesc(
			"replika_log_entries",
			"Number of deltas recorded in the components log",
			nil, labels,
		),
	}
}

func (c *ReplicaCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.crdts
	ch <- c.contextDots
	ch <- c.logEntries
}

func (c *ReplicaCollector) Collect(ch chan<- prometheus.Metric) {
	if c.lock != nil {
		c.lock.Lock()
		defer c.lock.Unlock()
	}

	ch <- prometheus.MustNewConstMetric(
		c.crdts, prometheus.GaugeValue, float64(len(c.replica.crdts)))

	dots := 0
	for _, set := range c.replica.ctx {
		dots += set.Size()
	}
	ch <- prometheus.MustNewConstMetric(
		c.contextDots, prometheus.GaugeValue, float64(dots))

	ch <- prometheus.MustNewConstMetric(
		c.logEntries, prometheus.GaugeValue, float64(c.replica.log.Len()))
}
