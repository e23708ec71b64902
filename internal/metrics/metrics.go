// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	readingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riego_readings_total",
		Help: "Sensor readings ingested, by zone and outcome.",
	}, []string{"zone", "outcome"})

	valveTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riego_valve_transitions_total",
		Help: "Valve state changes, by zone, target position and origin.",
	}, []string{"zone", "valve", "source"})

	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riego_bus_dropped_events_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})

	bridgePublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riego_bridge_publishes_total",
		Help: "Bridge deliveries to external transports, by sink and outcome.",
	}, []string{"sink", "outcome"})

	soilMoisture = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riego_soil_moisture",
		Help: "Last reported soil moisture per zone (raw sensor units).",
	}, []string{"zone"})

	temperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "riego_temperature_celsius",
		Help: "Last reported temperature per zone.",
	}, []string{"zone"})

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riego_ingest_duration_seconds",
		Help:    "Wall time of one serialized ingest, queue wait included.",
		Buckets: prometheus.DefBuckets,
	})
)

func IncReading(zone, outcome string) { readingsTotal.WithLabelValues(zone, outcome).Inc() }

func IncValveTransition(zone, valve, source string) {
	valveTransitions.WithLabelValues(zone, valve, source).Inc()
}

func IncBusDropped() { busDropped.Inc() }

func IncBridgePublish(sink, outcome string) { bridgePublishes.WithLabelValues(sink, outcome).Inc() }

func SetSoilMoisture(zone string, v float64) { soilMoisture.WithLabelValues(zone).Set(v) }

func SetTemperature(zone string, v float64) { temperature.WithLabelValues(zone).Set(v) }

func ObserveIngest(d time.Duration) { ingestDuration.Observe(d.Seconds()) }

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
