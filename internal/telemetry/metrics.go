package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors Counters as Prometheus series, so the same numbers
// are scrapeable over /metrics.
type Metrics struct {
	totalHLT      prometheus.Gauge
	runHLT        prometheus.Gauge
	runLLT        prometheus.Gauge
	tsWords       prometheus.Counter
	channelStatus prometheus.Gauge
	failedSend    prometheus.Gauge
	occupancyMean prometheus.Gauge
	hltBit        *prometheus.CounterVec
	lltBit        *prometheus.CounterVec
}

// NewMetrics registers the readout's Prometheus series against the
// default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		totalHLT: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_total_hlt",
			Help: "Total HLT words observed across the run",
		}),
		runHLT: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_run_hlt",
			Help: "HLT words observed in the current run",
		}),
		runLLT: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_run_llt",
			Help: "LLT words observed in the current run",
		}),
		tsWords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ctbreadout_ts_words_total",
			Help: "TS words observed",
		}),
		channelStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_channel_status",
			Help: "ChannelStatus words observed in the current run",
		}),
		failedSend: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_failed_send_total",
			Help: "Words dropped because an output channel declined them",
		}),
		occupancyMean: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ctbreadout_occupancy_mean",
			Help: "Mean packet word count over the rolling occupancy window",
		}),
		hltBit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ctbreadout_hlt_bit_total",
			Help: "Per-bit HLT trigger counts",
		}, []string{"bit"}),
		lltBit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ctbreadout_llt_bit_total",
			Help: "Per-bit LLT trigger counts",
		}, []string{"bit"}),
	}
}

// Observe folds a Snapshot into the registered series. TSWords and the
// per-bit maps are deltas (see Counters.Collect), so they add to
// Counter series; the rest are gauges reflecting current state.
func (m *Metrics) Observe(snap Snapshot) {
	m.totalHLT.Set(float64(snap.TotalHLT))
	m.runHLT.Set(float64(snap.RunHLT))
	m.runLLT.Set(float64(snap.RunLLT))
	m.channelStatus.Set(float64(snap.ChannelStatus))
	m.occupancyMean.Set(snap.OccupancyMean)
	m.tsWords.Add(float64(snap.TSWords))
	m.failedSend.Set(float64(snap.FailedSend))
	for bit, delta := range snap.HLTBits {
		m.hltBit.WithLabelValues(strconv.Itoa(bit)).Add(float64(delta))
	}
	for bit, delta := range snap.LLTBits {
		m.lltBit.WithLabelValues(strconv.Itoa(bit)).Add(float64(delta))
	}
}
