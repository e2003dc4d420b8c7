package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsdispatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, route template and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smsdispatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latencies in seconds",
			// report downloads are the slow tail
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "smsdispatch",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "API requests currently being served",
		},
	)
)

// Metrics records request counts and latencies. Paths in skip (the scrape endpoint itself) are
// not measured, and requests that matched no route share one label value.
func Metrics(skip ...string) fiber.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c fiber.Ctx) error {
		if _, ok := skipped[c.Path()]; ok {
			return c.Next()
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  routeLabel(c, status),
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

func routeLabel(c fiber.Ctx, status int) string {
	r := c.Route()
	if r == nil || r.Path == "" || (status == fiber.StatusNotFound && r.Path == "/") {
		return unmatchedRoute
	}
	return r.Path
}
