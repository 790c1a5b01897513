// Package metrics exposes isolation activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Cleanup triggers for CleanupsTotal.
const (
	TriggerRestore = "restore"
	TriggerExit    = "exit"
	TriggerSweep   = "sweep"
)

// Notification results for NotificationsTotal.
const (
	NotifySent      = "sent"
	NotifyFailed    = "failed"
	NotifyThrottled = "throttled"
)

// Registry holds all isolation metrics.
type Registry struct {
	IsolationsTotal         prometheus.Counter
	RulesAppliedTotal       prometheus.Counter
	CleanupsTotal           *prometheus.CounterVec
	ActiveIsolations        prometheus.Gauge
	BackendErrorsTotal      *prometheus.CounterVec
	CriticalRejectionsTotal prometheus.Counter
	NotificationsTotal      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Get returns the global metrics registry, creating it if necessary.
// Its collectors are registered with the default Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// NewRegistry registers the isolation collectors with reg. gatherer backs
// Handler and is normally the same registry.
func NewRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	factory := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.IsolationsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "isolator_isolations_total",
		Help: "Processes successfully isolated",
	})

	r.RulesAppliedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "isolator_rules_applied_total",
		Help: "Firewall rules installed",
	})

	r.CleanupsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "isolator_cleanups_total",
		Help: "Isolation teardowns by trigger",
	}, []string{"trigger"})

	r.ActiveIsolations = factory.NewGauge(prometheus.GaugeOpts{
		Name: "isolator_active_isolations",
		Help: "Currently isolated processes",
	})

	r.BackendErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "isolator_backend_errors_total",
		Help: "Failed firewall backend operations",
	}, []string{"op"})

	r.CriticalRejectionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "isolator_critical_rejections_total",
		Help: "Isolation requests refused for protected processes",
	})

	r.NotificationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "isolator_notifications_total",
		Help: "Alert deliveries by channel and result",
	}, []string{"channel", "result"})

	return r
}

// RecordIsolation records a successful isolation.
func (r *Registry) RecordIsolation(rules int) {
	r.IsolationsTotal.Inc()
	r.RulesAppliedTotal.Add(float64(rules))
}

// RecordCleanup records a record torn down by trigger.
func (r *Registry) RecordCleanup(trigger string) {
	r.CleanupsTotal.WithLabelValues(trigger).Inc()
}

// RecordBackendError records a failed backend operation ("apply", "remove", "cleanup").
func (r *Registry) RecordBackendError(op string) {
	r.BackendErrorsTotal.WithLabelValues(op).Inc()
}

// RecordCriticalRejection records a refused isolation of a protected process.
func (r *Registry) RecordCriticalRejection() {
	r.CriticalRejectionsTotal.Inc()
}

// RecordNotification records one delivery attempt to channel.
func (r *Registry) RecordNotification(channel, result string) {
	r.NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// SetActive sets the active isolations gauge. The owner of the isolation
// records calls it whenever their count changes.
func (r *Registry) SetActive(n int) {
	r.ActiveIsolations.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
