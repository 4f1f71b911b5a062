// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Checks counters, the live-session gauge and the exposition handler

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(func() int { return 3 })

	m.FrameReceived("send_message")
	m.FrameReceived("send_message")
	m.Delivery(DeliveredLive)
	m.Delivery(DeliveredMail)
	m.DuplicateSend()
	m.PersistFailed("groups", errors.New("disk full"))
	m.BotReply(200 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("send_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(DeliveredLive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(DeliveredMail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFails.WithLabelValues("groups")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(func() int { return 7 })
	m.FrameReceived("register")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `parlor_frames_received_total{type="register"} 1`)
	assert.Contains(t, string(body), "parlor_live_sessions 7")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameReceived("x")
		m.Delivery(DeliveryFail)
		m.DuplicateSend()
		m.BotReply(time.Second)
		m.PersistFailed("offline", nil)
	})
}
