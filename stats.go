package amqpcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// connStats replaces the teacher's ad hoc stats.Histogram calls
// (connection.go's statOutBlocked/statOutNetwork/statInBlocked/
// statInNetwork) with real Prometheus collectors, registered once per
// process and labelled per connection so a library embedder gets
// observability without wiring its own metrics around this package.
type connStats struct {
	framesIn     prometheus.Counter
	framesOut    prometheus.Counter
	outboxBlockS prometheus.Observer
	panics       prometheus.Counter
}

var (
	defaultRegistry = prometheus.DefaultRegisterer

	framesInTotal = promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "amqpcore",
		Name:      "frames_in_total",
		Help:      "Frames read from the broker, by connection id.",
	}, []string{"connection"})

	framesOutTotal = promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "amqpcore",
		Name:      "frames_out_total",
		Help:      "Frames written to the broker, by connection id.",
	}, []string{"connection"})

	outboxBlockSeconds = promauto.With(defaultRegistry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "amqpcore",
		Name:      "outbox_block_seconds",
		Help:      "Time the writer loop spent waiting for the next outbound frame.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"connection"})

	panicsRecovered = promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "amqpcore",
		Name:      "panics_recovered_total",
		Help:      "Panics recovered in the reader/writer loops, by connection id.",
	}, []string{"connection"})
)

func newConnStats(connId string) *connStats {
	return &connStats{
		framesIn:     framesInTotal.WithLabelValues(connId),
		framesOut:    framesOutTotal.WithLabelValues(connId),
		outboxBlockS: outboxBlockSeconds.WithLabelValues(connId),
		panics:       panicsRecovered.WithLabelValues(connId),
	}
}
