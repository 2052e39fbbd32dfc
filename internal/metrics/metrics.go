// Package metrics holds the Prometheus collectors for the live-show engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_events_published_total",
		Help: "Events published to the bus, by room and event name.",
	}, []string{"room", "event"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	}, []string{"room"})

	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moedor_subscribers",
		Help: "Connected subscribers per room.",
	}, []string{"room"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_rate_limited_total",
		Help: "Rejected actions, by action.",
	}, []string{"action"})

	MessagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moedor_messages_submitted_total",
		Help: "Chat messages accepted.",
	})

	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moedor_messages_pending",
		Help: "Messages waiting in the ranking.",
	})

	VotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_poll_votes_total",
		Help: "Poll votes, by result.",
	}, []string{"result"})

	PollsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moedor_polls_open",
		Help: "Polls currently accepting votes.",
	})

	StuntJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_stunt_jobs_total",
		Help: "Speech jobs processed, by status.",
	}, []string{"status"})

	SynthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moedor_tts_duration_seconds",
		Help:    "Text-to-speech request latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	CameraFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_camera_frames_total",
		Help: "Frames captured per camera.",
	}, []string{"camera"})

	CameraErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moedor_camera_errors_total",
		Help: "Capture failures per camera.",
	}, []string{"camera"})

	CamerasRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moedor_cameras_running",
		Help: "Camera workers currently running.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moedor_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// RegisterPool exposes pgx pool statistics. Call once at startup.
func RegisterPool(pool *pgxpool.Pool) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "moedor_db_pool_acquired_conns",
		Help: "Connections currently acquired from the pool.",
	}, func() float64 { return float64(pool.Stat().AcquiredConns()) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "moedor_db_pool_idle_conns",
		Help: "Idle connections in the pool.",
	}, func() float64 { return float64(pool.Stat().IdleConns()) })
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request latency keyed by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
