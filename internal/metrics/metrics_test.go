package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsExisting(t *testing.T) {
	r := NewRegistry("dosplay")
	a := r.Counter("x_total", "x")
	b := r.Counter("x_total", "other help")
	assert.Same(t, a, b)

	a.Inc()
	a.Add(2)
	assert.EqualValues(t, 3, b.Value())
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("dosplay")
	r.Counter("b_total", "b").Inc()
	r.Counter("a_total", "a").Add(5)
	g := r.Gauge("held", "held keys")
	g.Set(4)
	g.Dec()
	h := r.Histogram("wait_seconds", "wait", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(7)

	var sb strings.Builder
	require.NoError(t, r.WritePrometheus(&sb))
	out := sb.String()

	assert.Less(t, strings.Index(out, "dosplay_a_total 5"), strings.Index(out, "dosplay_b_total 1"))
	assert.Contains(t, out, "# TYPE dosplay_held gauge\ndosplay_held 3\n")
	assert.Contains(t, out, `dosplay_wait_seconds_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `dosplay_wait_seconds_bucket{le="1"} 2`)
	assert.Contains(t, out, `dosplay_wait_seconds_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "dosplay_wait_seconds_count 3")
}

func TestDosplay(t *testing.T) {
	r := NewRegistry("dosplay")
	m := NewDosplay(r)
	m.KeyEvent()
	m.KeyEvent()
	m.SaveStored()
	m.SaveLoaded()
	m.ChangeDetected()
	m.SyncOperation()
	m.Error()
	m.SetCapturedHandlers(2)
	m.BootDuration.ObserveDuration(20 * time.Millisecond)

	snap := r.Snapshot()
	assert.EqualValues(t, 2, snap["dosplay_key_events_total"])
	assert.EqualValues(t, 1, snap["dosplay_saves_stored_total"])
	assert.EqualValues(t, 1, snap["dosplay_saves_loaded_total"])
	assert.EqualValues(t, 1, snap["dosplay_save_changes_total"])
	assert.EqualValues(t, 1, snap["dosplay_sync_operations_total"])
	assert.EqualValues(t, 1, snap["dosplay_errors_total"])
	assert.EqualValues(t, 2, snap["dosplay_captured_handlers"])
	assert.EqualValues(t, 1, snap["dosplay_boot_duration_seconds_count"])

	var nilMetrics *Dosplay
	assert.NotPanics(t, func() {
		nilMetrics.KeyEvent()
		nilMetrics.SaveStored()
		nilMetrics.SaveLoaded()
		nilMetrics.ChangeDetected()
		nilMetrics.SyncOperation()
		nilMetrics.Error()
		nilMetrics.SetCapturedHandlers(1)
	})
}

func TestHandler(t *testing.T) {
	r := NewRegistry("dosplay")
	r.Counter("errors_total", "errors").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "dosplay_errors_total 1")
}
