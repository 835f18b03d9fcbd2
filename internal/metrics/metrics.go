package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrips prometheus.Gauge

	TripsStarted    prometheus.Counter
	TripsEnded      *prometheus.CounterVec // reason label: driver|superseded|reaped
	LocationUpdates prometheus.Counter
	UpdateRejects   *prometheus.CounterVec // reason label: not_found|malformed|regression
	ProgressHeld    prometheus.Counter

	ProjectionDuration prometheus.Histogram
	UpdateDuration     prometheus.Histogram

	FanoutDelivered  prometheus.Counter
	FanoutDropped    prometheus.Counter
	FanoutErrors     prometheus.Counter
	Subscriptions    prometheus.Gauge
	WSConnections    prometheus.Gauge
	NATSPublished    prometheus.Counter
	NATSPublishErrs  prometheus.Counter
	NATSConnected    prometheus.Gauge
	PublishDuration  prometheus.Histogram
	FreshnessWindow  prometheus.Gauge // seconds
	DefaultSpeedKmph prometheus.Gauge
}

func NewCollector(freshnessWindow time.Duration, defaultSpeedKmph float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of trips currently held as active.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_trips_ended_total",
			Help: "Total trips ended, by reason.",
		}, []string{"reason"}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_location_updates_total",
			Help: "Total location updates applied.",
		}),
		UpdateRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_location_rejects_total",
			Help: "Location updates refused, by reason.",
		}, []string{"reason"}),
		ProgressHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_progress_held_total",
			Help: "Fixes whose backward jump was ignored by the hold policy.",
		}),
		ProjectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_projection_duration_seconds",
			Help:    "Duration of a single corridor projection.",
			Buckets: prometheus.ExponentialBuckets(0.000005, 2, 15),
		}),
		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_update_duration_seconds",
			Help:    "Duration of a location update including persistence and publish.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fanout_delivered_total",
			Help: "Events handed to a subscriber buffer.",
		}),
		FanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fanout_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}),
		FanoutErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fanout_errors_total",
			Help: "Publish calls that returned an error from any sink.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_subscriptions",
			Help: "Current topic memberships across all subscribers.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_ws_connections",
			Help: "Open realtime connections.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_nats_publish_duration_seconds",
			Help:    "Duration to publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FreshnessWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_freshness_window_seconds",
			Help: "Maximum age of a trip update before it leaves active listings.",
		}),
		DefaultSpeedKmph: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_default_speed_kmph",
			Help: "Speed substituted for unusable speed readings in ETA.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips, c.TripsStarted, c.TripsEnded,
		c.LocationUpdates, c.UpdateRejects, c.ProgressHeld,
		c.ProjectionDuration, c.UpdateDuration,
		c.FanoutDelivered, c.FanoutDropped, c.FanoutErrors, c.Subscriptions, c.WSConnections,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.FreshnessWindow, c.DefaultSpeedKmph,
	)

	c.FreshnessWindow.Set(freshnessWindow.Seconds())
	c.DefaultSpeedKmph.Set(defaultSpeedKmph)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// Hub adapts the collector to fanout.HubMetrics.
func (c *Collector) Hub() *HubMetrics { return &HubMetrics{c: c} }

type HubMetrics struct{ c *Collector }

func (h *HubMetrics) Delivered()             { h.c.FanoutDelivered.Inc() }
func (h *HubMetrics) Dropped()               { h.c.FanoutDropped.Inc() }
func (h *HubMetrics) SetSubscriptions(n int) { h.c.Subscriptions.Set(float64(n)) }

// Publisher adapts the collector to publisher.PublisherMetrics.
func (c *Collector) Publisher() *PublisherMetrics { return &PublisherMetrics{c: c} }

type PublisherMetrics struct{ c *Collector }

func (p *PublisherMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *PublisherMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *PublisherMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *PublisherMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
