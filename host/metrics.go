package host

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/local-first-systems/replika/protocol"
)

// Metrics counts the node's anti-entropy traffic.
type Metrics struct {
	messages      *prometheus.CounterVec
	opsApplied    prometheus.Counter
	deltasApplied prometheus.Counter
	deltasDeduped prometheus.Counter
	cacheHits     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replika_node_messages_total",
			Help: "Protocol messages handled, by message type",
		}, []string{"type"}),
		opsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replika_node_ops_applied_total",
			Help: "Local mutations applied",
		}),
		deltasApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replika_node_deltas_applied_total",
			Help: "Remote deltas applied",
		}),
		deltasDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replika_node_deltas_deduped_total",
			Help: "Remote deltas skipped as already seen",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replika_node_sync_cache_hits_total",
			Help: "Sync responses served from the response cache",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.opsApplied, m.deltasApplied, m.deltasDeduped, m.cacheHits)
	}
	return m
}

func messageTypeName(t uint16) string {
	switch t {
	case protocol.MsgDigestRequest:
		return "digest_request"
	case protocol.MsgDigestResponse:
		return "digest_response"
	case protocol.MsgSyncRequest:
		return "sync_request"
	case protocol.MsgSyncResponse:
		return "sync_response"
	}
	return "unknown"
}
