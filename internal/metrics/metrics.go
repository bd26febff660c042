// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package metrics implements raid.Metrics with prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asch/braid/internal/device"
)

// Metrics of the request path of one virtual device.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	children    prometheus.Histogram
	childErrors *prometheus.CounterVec
}

// New registers all collectors in reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "braid_requests_total",
				Help: "Requests completed by the virtual device by operation and status",
			},
			[]string{"op", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "braid_request_duration_seconds",
				Help: "Time from submission to completion of requests",
				Buckets: []float64{
					0.0001, // 100us - memory, null
					0.001,  // 1ms - local disks
					0.01,   // 10ms
					0.05,   // 50ms - network devices
					0.1,
					0.5,
					1,
					5,
				},
			},
			[]string{"op"},
		),
		children: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "braid_request_children",
				Help:    "Number of child requests per request",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		childErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "braid_child_errors_total",
				Help: "Failed child requests by underlying device index",
			},
			[]string{"device"},
		),
	}
}

func (m *Metrics) ObserveRequest(op device.Op, children int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	m.requests.WithLabelValues(op.String(), status).Inc()
	m.duration.WithLabelValues(op.String()).Observe(duration.Seconds())

	if children > 0 {
		m.children.Observe(float64(children))
	}
}

func (m *Metrics) ChildError(device int) {
	m.childErrors.WithLabelValues(strconv.Itoa(device)).Inc()
}

// Handler serves metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
