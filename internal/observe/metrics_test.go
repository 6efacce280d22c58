package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "write_file", "ok", 20*time.Millisecond)
	m.RecordToolCall(ctx, "write_file", "ok", 30*time.Millisecond)
	m.RecordToolCall(ctx, "write_file", "denied", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "rexlive.tool.calls", "status", "ok"); got != 2 {
		t.Errorf("ok calls = %d, want 2", got)
	}
	if got := sumFor(t, rm, "rexlive.tool.calls", "status", "denied"); got != 1 {
		t.Errorf("denied calls = %d, want 1", got)
	}

	met := findMetric(rm, "rexlive.tool.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration is not a populated histogram")
	}
	if hist.DataPoints[0].Count != 3 {
		t.Errorf("duration samples = %d, want 3", hist.DataPoints[0].Count)
	}
}

func TestRecordDrop(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, "mute_window")
	m.RecordDrop(ctx, "mute_window")
	m.RecordDrop(ctx, "below_barge_in")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "rexlive.audio.dropped", "reason", "mute_window"); got != 2 {
		t.Errorf("mute_window drops = %d, want 2", got)
	}
}

func TestSessionInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionActive.Add(ctx, 1)
	m.SessionActive.Add(ctx, -1)
	m.SessionActive.Add(ctx, 1)
	m.SessionReconnects.Add(ctx, 1)
	m.BargeIns.Add(ctx, 4)
	m.ConfirmationsPending.Record(ctx, 2)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "rexlive.session.active", "", ""); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := sumFor(t, rm, "rexlive.session.reconnects", "", ""); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
	if got := sumFor(t, rm, "rexlive.bargein.total", "", ""); got != 4 {
		t.Errorf("barge-ins = %d, want 4", got)
	}

	met := findMetric(rm, "rexlive.confirmation.pending")
	if met == nil {
		t.Fatal("pending gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 || g.DataPoints[0].Value != 2 {
		t.Errorf("pending gauge = %+v, want 2", met.Data)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
