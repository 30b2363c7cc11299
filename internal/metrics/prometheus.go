// Registers:
//
//	#tickflow_ticks_processed_total
//	#tickflow_ticks_dropped_total
//	#tickflow_alerts_fired_total
//	#tickflow_shard_queue_depth
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once            sync.Once
	ticksProcessed  *prometheus.CounterVec
	ticksDropped    *prometheus.CounterVec
	alertsFired     *prometheus.CounterVec
	shardQueueDepth *prometheus.GaugeVec
)

func Init(address string) {
	once.Do(func() {
		ticksProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickflow_ticks_processed_total",
				Help: "Number of ticks fully processed by the aggregation engine",
			},
			[]string{"shard"},
		)

		ticksDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickflow_ticks_dropped_total",
				Help: "Number of ticks rejected before aggregation",
			},
			[]string{"reason"},
		)

		alertsFired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickflow_alerts_fired_total",
				Help: "Number of threshold-crossing alerts emitted",
			},
			[]string{"alert_type"},
		)

		shardQueueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickflow_shard_queue_depth",
				Help: "Buffered ticks waiting in each engine shard",
			},
			[]string{"shard"},
		)

		_ = prometheus.Register(ticksProcessed)
		_ = prometheus.Register(ticksDropped)
		_ = prometheus.Register(alertsFired)
		_ = prometheus.Register(shardQueueDepth)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(address, mux); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementTickProcessed increases the processed counter for a shard.
func IncrementTickProcessed(shard string) {
	if ticksProcessed != nil {
		ticksProcessed.WithLabelValues(shard).Inc()
	}
}

// IncrementTickDropped increases the drop counter for a rejection reason.
func IncrementTickDropped(reason string) {
	if ticksDropped != nil {
		ticksDropped.WithLabelValues(reason).Inc()
	}
}

// IncrementAlertFired increases the alert counter for an alert type.
func IncrementAlertFired(alertType string) {
	if alertsFired != nil {
		alertsFired.WithLabelValues(alertType).Inc()
	}
}

// SetShardQueueDepth records the buffered tick count for a shard.
func SetShardQueueDepth(shard string, depth int) {
	if shardQueueDepth != nil {
		shardQueueDepth.WithLabelValues(shard).Set(float64(depth))
	}
}
