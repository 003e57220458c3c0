package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorderCounters(t *testing.T) {
	r := newRecorder(prometheus.NewRegistry())

	r.WaterLogged(250)
	r.WaterLogged(500)
	r.LogRemoved()
	r.ActivityBreak()
	r.ChatOutcome("ok", 120*time.Millisecond)
	r.ChatOutcome("error", time.Second)
	r.ChatRejected("busy")
	r.ReminderAlert("u1", nil)
	r.ReminderAlert("u1", errors.New("no listeners"))
	r.Delivered("toast", 2)
	r.Delivered("toast", 0)

	text := scrape(t, r)
	for _, want := range []string{
		"hydraflow_water_logs_total 2",
		"hydraflow_water_ml_total 750",
		"hydraflow_water_logs_removed_total 1",
		"hydraflow_activity_breaks_total 1",
		`hydraflow_chat_requests_total{outcome="error"} 1`,
		`hydraflow_chat_requests_total{outcome="ok"} 1`,
		"hydraflow_chat_request_duration_seconds_count 2",
		`hydraflow_chat_rejected_total{reason="busy"} 1`,
		`hydraflow_reminder_alerts_total{result="delivered"} 1`,
		`hydraflow_reminder_alerts_total{result="undelivered"} 1`,
		`hydraflow_notifications_delivered_total{kind="toast"} 2`,
	} {
		assert.Contains(t, text, want)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	r := newRecorder(prometheus.NewRegistry())
	r.Gauges(func() int { return 3 }, func() int { return 2 }, func() int { return 1 })
	r.SettingsUpdated()

	text := scrape(t, r)
	assert.Contains(t, text, "hydraflow_active_trackers 3")
	assert.Contains(t, text, "hydraflow_active_reminders 2")
	assert.Contains(t, text, "hydraflow_event_connections 1")
	assert.Contains(t, text, "hydraflow_settings_updates_total 1")
}
