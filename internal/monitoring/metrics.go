package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huyhung411991/PINetTensorRT/internal/lane"
)

// Discard reasons used as the "reason" label of DiscardedCellsTotal.
const (
	ReasonOutOfBounds = "out_of_bounds"
	ReasonNonFinite   = "non_finite"
	ReasonCapacity    = "lane_capacity"
)

// Metrics holds the Prometheus collectors for lane decoding.
type Metrics struct {
	FramesTotal         *prometheus.CounterVec
	ActiveCellsTotal    prometheus.Counter
	DiscardedCellsTotal *prometheus.CounterVec
	LanesEmittedTotal   prometheus.Counter
	LanesDroppedTotal   prometheus.Counter
	OutliersTotal       prometheus.Counter
	LanesPerFrame       prometheus.Histogram
	DecodeLatency       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lane_frames_decoded_total",
				Help: "Frames processed by result (ok, empty, error).",
			},
			[]string{"result"},
		),
		ActiveCellsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lane_active_cells_total",
				Help: "Grid cells above the confidence threshold.",
			},
		),
		DiscardedCellsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lane_discarded_cells_total",
				Help: "Active cells that never reached a lane, by reason.",
			},
			[]string{"reason"},
		),
		LanesEmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lane_lanes_emitted_total",
				Help: "Lanes returned after refinement.",
			},
		),
		LanesDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lane_lanes_dropped_total",
				Help: "Lanes removed by the minimum point filter.",
			},
		),
		OutliersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lane_outliers_removed_total",
				Help: "Points removed by outlier elimination.",
			},
		),
		LanesPerFrame: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lane_lanes_per_frame",
				Help:    "Number of lanes returned per frame.",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
			},
		),
		DecodeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lane_decode_latency_seconds",
				Help:    "Time to decode one frame in seconds.",
				Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesTotal,
			m.ActiveCellsTotal,
			m.DiscardedCellsTotal,
			m.LanesEmittedTotal,
			m.LanesDroppedTotal,
			m.OutliersTotal,
			m.LanesPerFrame,
			m.DecodeLatency,
		)
	}
	return m
}

// ObserveDecode records the outcome of one frame.
func (m *Metrics) ObserveDecode(s lane.Stats, err error) {
	if err != nil {
		m.FramesTotal.WithLabelValues("error").Inc()
		return
	}
	emitted := s.LanesFormed - s.LanesDropped
	if emitted == 0 {
		m.FramesTotal.WithLabelValues("empty").Inc()
	} else {
		m.FramesTotal.WithLabelValues("ok").Inc()
	}
	m.ActiveCellsTotal.Add(float64(s.ActiveCells))
	m.DiscardedCellsTotal.WithLabelValues(ReasonOutOfBounds).Add(float64(s.OutOfBounds))
	m.DiscardedCellsTotal.WithLabelValues(ReasonNonFinite).Add(float64(s.NonFinite))
	m.DiscardedCellsTotal.WithLabelValues(ReasonCapacity).Add(float64(s.CapacityDiscards))
	m.LanesEmittedTotal.Add(float64(emitted))
	m.LanesDroppedTotal.Add(float64(s.LanesDropped))
	m.OutliersTotal.Add(float64(s.OutliersRemoved))
	m.LanesPerFrame.Observe(float64(emitted))
	m.DecodeLatency.Observe(s.DecodeDuration.Seconds())
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
