package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/collapsinghierarchy/quorum/model"
)

type metrics struct {
	operations    *prometheus.CounterVec
	votes         prometheus.Counter
	finalizations *prometheus.CounterVec
	suspensions   prometheus.Counter
}

// newMetrics registers the collectors with reg; a nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_operations_total",
			Help: "Protocol operations by name and result code",
		}, []string{"op", "result"}),
		votes: f.NewCounter(prometheus.CounterOpts{
			Name: "quorum_votes_recorded_total",
			Help: "Votes recorded, before reveal-time validation",
		}),
		finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_finalizations_total",
			Help: "Submissions finalized by outcome",
		}, []string{"status"}),
		suspensions: f.NewCounter(prometheus.CounterOpts{
			Name: "quorum_suspensions_total",
			Help: "Contributors suspended by ban or by score",
		}),
	}
}

func (m *metrics) observe(op string, err error) {
	result := Code(err)
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *metrics) finalized(st model.Status) {
	m.finalizations.WithLabelValues(string(st)).Inc()
}
