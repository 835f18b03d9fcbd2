package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorAdapters(t *testing.T) {
	c := NewCollector(5*time.Minute, 45)
	assert.Equal(t, 300.0, testutil.ToFloat64(c.FreshnessWindow))
	assert.Equal(t, 45.0, testutil.ToFloat64(c.DefaultSpeedKmph))

	h := c.Hub()
	h.Delivered()
	h.Delivered()
	h.Dropped()
	h.SetSubscriptions(7)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.FanoutDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FanoutDropped))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.Subscriptions))

	p := c.Publisher()
	p.NATSPublishedInc()
	p.NATSPublishErrInc()
	p.NATSSetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublishErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	p.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(time.Minute, 45)
	c.TripsEnded.WithLabelValues("reaped").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tracker_trips_ended_total{reason="reaped"} 1`)
	assert.Contains(t, string(body), "tracker_freshness_window_seconds 60")
}
