package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayStatsProvider exposes live relay counters.
type RelayStatsProvider interface {
	ConnectedUserCount() int
	ActiveCallCount() int
	SignalsForwarded() uint64
}

// HistoryStatusCounter returns call history counts grouped by status.
type HistoryStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers relay metrics at scrape time.
type Collector struct {
	relay     RelayStatsProvider
	history   HistoryStatusCounter
	startTime time.Time

	// Metric descriptors.
	connectedUsersDesc *prometheus.Desc
	activeCallsDesc    *prometheus.Desc
	signalsDesc        *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(relay RelayStatsProvider, history HistoryStatusCounter, startTime time.Time) *Collector {
	return &Collector{
		relay:     relay,
		history:   history,
		startTime: startTime,

		connectedUsersDesc: prometheus.NewDesc(
			"callrelay_connected_users",
			"Number of users with a live signaling connection",
			nil, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"callrelay_active_calls",
			"Number of in-flight call sessions (ringing + active)",
			nil, nil,
		),
		signalsDesc: prometheus.NewDesc(
			"callrelay_signals_forwarded_total",
			"Total signaling payloads relayed between peers",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callrelay_calls_total",
			"Total number of calls recorded, by terminal status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callrelay_uptime_seconds",
			"Seconds since the relay process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedUsersDesc
	ch <- c.activeCallsDesc
	ch <- c.signalsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.relay != nil {
		ch <- prometheus.MustNewConstMetric(
			c.connectedUsersDesc, prometheus.GaugeValue,
			float64(c.relay.ConnectedUserCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.relay.ActiveCallCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.signalsDesc, prometheus.CounterValue,
			float64(c.relay.SignalsForwarded()),
		)
	}

	if c.history != nil {
		counts, err := c.history.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for _, status := range []string{"completed", "missed", "rejected", "failed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[status]), status,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
