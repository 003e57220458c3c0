// Package metrics exposes Prometheus counters for hydration and assistant activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry and the application's collectors.
type Recorder struct {
	reg *prometheus.Registry

	waterLogged     prometheus.Counter
	waterMilliliter prometheus.Counter
	logsRemoved     prometheus.Counter
	settingsUpdates prometheus.Counter
	activityBreaks  prometheus.Counter
	chatRequests    *prometheus.CounterVec
	chatDuration    prometheus.Histogram
	chatRejected    *prometheus.CounterVec
	reminderAlerts  *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New creates a Recorder on a fresh registry, including Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRecorder(reg)
}

func newRecorder(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		waterLogged: f.NewCounter(prometheus.CounterOpts{
			Name: "hydraflow_water_logs_total",
			Help: "Total number of water intake entries recorded",
		}),
		waterMilliliter: f.NewCounter(prometheus.CounterOpts{
			Name: "hydraflow_water_ml_total",
			Help: "Total milliliters of water logged",
		}),
		logsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "hydraflow_water_logs_removed_total",
			Help: "Total number of water intake entries removed",
		}),
		settingsUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "hydraflow_settings_updates_total",
			Help: "Total number of confirmed settings updates",
		}),
		activityBreaks: f.NewCounter(prometheus.CounterOpts{
			Name: "hydraflow_activity_breaks_total",
			Help: "Total number of activity breaks logged",
		}),
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydraflow_chat_requests_total",
			Help: "Total number of assistant completions by outcome",
		}, []string{"outcome"}),
		chatDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydraflow_chat_request_duration_seconds",
			Help:    "Duration of assistant completion calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		chatRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydraflow_chat_rejected_total",
			Help: "Total number of chat messages rejected before a completion call",
		}, []string{"reason"}),
		reminderAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydraflow_reminder_alerts_total",
			Help: "Total number of reminder ticks by delivery result",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hydraflow_notifications_delivered_total",
			Help: "Total number of notifications written to client connections",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gauges registers gauges sampled from live state at scrape time.
func (r *Recorder) Gauges(trackers, reminders, events func() int) {
	f := promauto.With(r.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hydraflow_active_trackers",
		Help: "Number of users with hydration state cached in memory",
	}, func() float64 { return float64(trackers()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hydraflow_active_reminders",
		Help: "Number of users with an armed reminder",
	}, func() float64 { return float64(reminders()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hydraflow_event_connections",
		Help: "Number of open notification connections",
	}, func() float64 { return float64(events()) })
}

// WaterLogged records an intake entry of amount ml.
func (r *Recorder) WaterLogged(amount int) {
	r.waterLogged.Inc()
	r.waterMilliliter.Add(float64(amount))
}

// LogRemoved records a removed intake entry.
func (r *Recorder) LogRemoved() { r.logsRemoved.Inc() }

// SettingsUpdated records a confirmed settings update.
func (r *Recorder) SettingsUpdated() { r.settingsUpdates.Inc() }

// ActivityBreak records a logged activity break.
func (r *Recorder) ActivityBreak() { r.activityBreaks.Inc() }

// ChatOutcome records a finished completion call.
func (r *Recorder) ChatOutcome(outcome string, elapsed time.Duration) {
	r.chatRequests.WithLabelValues(outcome).Inc()
	r.chatDuration.Observe(elapsed.Seconds())
}

// ChatRejected records a message refused before any completion call.
func (r *Recorder) ChatRejected(reason string) {
	r.chatRejected.WithLabelValues(reason).Inc()
}

// ReminderAlert records one reminder tick.
func (r *Recorder) ReminderAlert(userID string, err error) {
	result := "delivered"
	if err != nil {
		result = "undelivered"
	}
	r.reminderAlerts.WithLabelValues(result).Inc()
}

// Delivered records notifications written to n connections.
func (r *Recorder) Delivered(kind string, n int) {
	if n > 0 {
		r.notifications.WithLabelValues(kind).Add(float64(n))
	}
}
