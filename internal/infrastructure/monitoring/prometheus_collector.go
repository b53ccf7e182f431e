package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the RoomRegistry / Dispatcher counters:
// active rooms, connected peers, producers, consumers, RPC outcomes and
// latencies, and emission totals.
type PrometheusCollector struct {
	roomsActive     prometheus.Gauge
	peersConnected  prometheus.Gauge
	producersActive prometheus.Gauge
	consumersActive prometheus.Gauge

	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	emissionsTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signalcore_rooms_active",
			Help: "Number of rooms currently open",
		}),
		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signalcore_peers_connected",
			Help: "Number of peers currently joined across all rooms",
		}),
		producersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signalcore_producers_active",
			Help: "Number of open producers across all rooms",
		}),
		consumersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signalcore_consumers_active",
			Help: "Number of open consumers across all rooms",
		}),
		rpcTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_rpc_requests_total",
			Help: "Total signaling RPC calls by method and outcome",
		}, []string{"method", "outcome"}),
		rpcDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalcore_rpc_duration_seconds",
			Help:    "Duration of signaling RPC calls by method",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method"}),
		emissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalcore_emissions_total",
			Help: "Total server-originated emissions by event",
		}, []string{"event"}),
	}
}

func (p *PrometheusCollector) RoomCreated()   { p.roomsActive.Inc() }
func (p *PrometheusCollector) RoomDestroyed() { p.roomsActive.Dec() }

func (p *PrometheusCollector) PeerJoined() { p.peersConnected.Inc() }
func (p *PrometheusCollector) PeerLeft()   { p.peersConnected.Dec() }

func (p *PrometheusCollector) ProducerOpened() { p.producersActive.Inc() }
func (p *PrometheusCollector) ProducerClosed() { p.producersActive.Dec() }

func (p *PrometheusCollector) ConsumerOpened() { p.consumersActive.Inc() }
func (p *PrometheusCollector) ConsumerClosed() { p.consumersActive.Dec() }

// RecordRPC records one completed request by method and outcome ("ok" or
// "error"), plus its latency.
func (p *PrometheusCollector) RecordRPC(method string, ok bool, duration time.Duration) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	p.rpcTotal.WithLabelValues(method, outcome).Inc()
	p.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordEmission records one server-originated emission.
func (p *PrometheusCollector) RecordEmission(event string) {
	p.emissionsTotal.WithLabelValues(event).Inc()
}
