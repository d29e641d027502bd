// Package middleware holds the request observation middleware shared by the
// HTTP servers.
package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"RegimeSim/pkg/logger"
)

// ObserveConfig configures Observe. A nil Registerer disables metrics and a
// nil Logger disables access logs.
type ObserveConfig struct {
	Registerer prometheus.Registerer
	Logger     *logger.Logger
	// requests at least this slow are logged at warn level
	SlowThreshold time.Duration
}

type collectors struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	size     *prometheus.HistogramVec
}

func newCollectors(reg prometheus.Registerer) *collectors {
	return &collectors{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30, 120},
		}, []string{"route", "method", "class"})),
		inFlight: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "Current number of in-flight HTTP requests",
		}, []string{"route"})),
		size: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route", "class"})),
	}
}

// register returns the collector already registered under the same
// descriptor, so several servers can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

// Observe records request metrics labelled by route template and writes
// an access log line per request.
func Observe(cfg ObserveConfig) echo.MiddlewareFunc {
	var m *collectors
	if cfg.Registerer != nil {
		m = newCollectors(cfg.Registerer)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			if m != nil {
				m.inFlight.WithLabelValues(route).Inc()
				defer m.inFlight.WithLabelValues(route).Dec()
			}
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			res := c.Response()
			took := time.Since(start)
			class := strconv.Itoa(res.Status/100) + "xx"
			if m != nil {
				m.requests.WithLabelValues(route, method, strconv.Itoa(res.Status)).Inc()
				m.duration.WithLabelValues(route, method, class).Observe(took.Seconds())
				m.size.WithLabelValues(route, class).Observe(float64(res.Size))
			}
			if cfg.Logger != nil {
				logRequest(cfg, c, route, took)
			}
			return nil
		}
	}
}

func logRequest(cfg ObserveConfig, c echo.Context, route string, took time.Duration) {
	res := c.Response()
	fields := []logger.Field{
		logger.String("method", c.Request().Method),
		logger.String("route", route),
		logger.String("remote", c.RealIP()),
		logger.Int("status", res.Status),
		logger.Duration("duration_ms", took),
	}
	if id := res.Header().Get(echo.HeaderXRequestID); id != "" {
		fields = append(fields, logger.String("request_id", id))
	}
	switch {
	case res.Status >= 500:
		cfg.Logger.Error("http request failed", fields...)
	case cfg.SlowThreshold > 0 && took >= cfg.SlowThreshold:
		cfg.Logger.Warn("http request slow", fields...)
	default:
		cfg.Logger.Debug("http request", fields...)
	}
}
