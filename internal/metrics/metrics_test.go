package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type stubRelay struct {
	users   int
	calls   int
	signals uint64
}

func (s stubRelay) ConnectedUserCount() int  { return s.users }
func (s stubRelay) ActiveCallCount() int     { return s.calls }
func (s stubRelay) SignalsForwarded() uint64 { return s.signals }

type stubHistory struct {
	counts map[string]int64
}

func (s stubHistory) CountByStatus(context.Context) (map[string]int64, error) {
	return s.counts, nil
}

func gatherValues(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("registering collector: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			}
		}
	}
	return values
}

func TestCollectorGathersAllMetrics(t *testing.T) {
	c := NewCollector(
		stubRelay{users: 4, calls: 2, signals: 99},
		stubHistory{counts: map[string]int64{"completed": 7, "missed": 3}},
		time.Now().Add(-time.Minute),
	)

	values := gatherValues(t, c)

	if values["callrelay_connected_users"] != 4 {
		t.Errorf("connected_users = %v, want 4", values["callrelay_connected_users"])
	}
	if values["callrelay_active_calls"] != 2 {
		t.Errorf("active_calls = %v, want 2", values["callrelay_active_calls"])
	}
	if values["callrelay_signals_forwarded_total"] != 99 {
		t.Errorf("signals_forwarded = %v, want 99", values["callrelay_signals_forwarded_total"])
	}
	if values["callrelay_calls_total{status=completed}"] != 7 {
		t.Errorf("calls_total completed = %v, want 7", values["callrelay_calls_total{status=completed}"])
	}
	// Statuses absent from history still report a zero sample.
	if v, ok := values["callrelay_calls_total{status=failed}"]; !ok || v != 0 {
		t.Errorf("calls_total failed = %v (present=%v), want 0", v, ok)
	}
	if values["callrelay_uptime_seconds"] < 59 {
		t.Errorf("uptime = %v, want at least a minute", values["callrelay_uptime_seconds"])
	}
}

func TestCollectorNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, time.Now())

	values := gatherValues(t, c)

	if _, ok := values["callrelay_connected_users"]; ok {
		t.Error("connected_users reported without a relay provider")
	}
	if _, ok := values["callrelay_uptime_seconds"]; !ok {
		t.Error("uptime missing")
	}
}
