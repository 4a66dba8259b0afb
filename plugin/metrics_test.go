package plugin

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.starlark.net/starlark"
)

func TestMetricsRecordOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b, _ := startModule(t, toolModule, WithMetrics(m))

	b.Call("", "twice", starlark.Tuple{starlark.MakeInt(1)}, nil)
	b.Call("", "boom", starlark.Tuple{starlark.String("x")}, nil)
	b.Call("", "limit", nil, nil)
	b.IsCallable("", "twice")

	tests := []struct {
		op, status string
		want       float64
	}{
		{"initialize", "OK", 1},
		{"call", "OK", 1},
		{"call", "EXCEPTION", 1},
		{"call", "NOTCALLABLE", 1},
		{"is_callable", "OK", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.operations.WithLabelValues(tt.op, tt.status))
		if got != tt.want {
			t.Errorf("operations{%s,%s} = %v, want %v", tt.op, tt.status, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.state); got != float64(StateReady) {
		t.Errorf("module_state = %v, want %d", got, StateReady)
	}
	if n := testutil.CollectAndCount(reg, "goplug_bridge_operation_duration_seconds"); n == 0 {
		t.Error("expected duration histograms")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.observe("call", StatusOK, 0)
	m.reload(nil)
	m.setState(StateReady)
}
