package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRegistry(reg, reg), reg
}

// value returns the value of the named series with the given label pairs.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestRegistry_IsolationLifecycle(t *testing.T) {
	r, reg := newTestRegistry(t)

	r.RecordIsolation(3)
	r.RecordIsolation(3)
	r.RecordCleanup(TriggerRestore)
	r.RecordCleanup(TriggerExit)
	r.RecordIsolation(3)

	assert.Equal(t, 3.0, value(t, reg, "isolator_isolations_total", nil))
	assert.Equal(t, 9.0, value(t, reg, "isolator_rules_applied_total", nil))
	assert.Equal(t, 0.0, value(t, reg, "isolator_active_isolations", nil))
	assert.Equal(t, 1.0, value(t, reg, "isolator_cleanups_total", map[string]string{"trigger": "restore"}))
	assert.Equal(t, 1.0, value(t, reg, "isolator_cleanups_total", map[string]string{"trigger": "exit"}))

	r.SetActive(2)
	assert.Equal(t, 2.0, value(t, reg, "isolator_active_isolations", nil))
	r.SetActive(0)
	assert.Equal(t, 0.0, value(t, reg, "isolator_active_isolations", nil))
}

func TestRegistry_ErrorsAndRejections(t *testing.T) {
	r, reg := newTestRegistry(t)

	r.RecordBackendError("apply")
	r.RecordBackendError("apply")
	r.RecordBackendError("cleanup")
	r.RecordCriticalRejection()

	assert.Equal(t, 2.0, value(t, reg, "isolator_backend_errors_total", map[string]string{"op": "apply"}))
	assert.Equal(t, 1.0, value(t, reg, "isolator_backend_errors_total", map[string]string{"op": "cleanup"}))
	assert.Equal(t, 1.0, value(t, reg, "isolator_critical_rejections_total", nil))
}

func TestRegistry_Notifications(t *testing.T) {
	r, reg := newTestRegistry(t)

	r.RecordNotification("ops", NotifySent)
	r.RecordNotification("ops", NotifyThrottled)
	r.RecordNotification("pager", NotifyFailed)

	assert.Equal(t, 1.0, value(t, reg, "isolator_notifications_total", map[string]string{"channel": "ops", "result": "sent"}))
	assert.Equal(t, 1.0, value(t, reg, "isolator_notifications_total", map[string]string{"channel": "ops", "result": "throttled"}))
	assert.Equal(t, 1.0, value(t, reg, "isolator_notifications_total", map[string]string{"channel": "pager", "result": "failed"}))
}

func TestRegistry_Handler(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.RecordIsolation(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "isolator_isolations_total 1")
	assert.Contains(t, string(body), "isolator_rules_applied_total 3")
}

func TestGet_Singleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
