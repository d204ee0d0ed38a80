package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docport_builds_total",
			Help: "Total image builds",
		},
		[]string{"recipe", "status"},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docport_build_duration_seconds",
			Help:    "Time to build an image",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"recipe"},
	)

	InstancesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docport_instances_active",
			Help: "Number of currently running instances",
		},
	)

	LaunchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docport_launch_duration_seconds",
			Help:    "Time from container create to verified startup",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	RuntimeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docport_runtime_op_duration_seconds",
			Help:    "Time for container runtime operations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"operation"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docport_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		BuildsTotal,
		BuildDuration,
		InstancesActive,
		LaunchDuration,
		RuntimeOpDuration,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()

			return err
		}
	}
}
