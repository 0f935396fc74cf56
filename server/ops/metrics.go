package ops

import "github.com/prometheus/client_golang/prometheus"

var (
	queryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spantree",
		Subsystem: "topology",
		Name:      "queries_total",
		Help:      "Topology queries handled by outcome",
	}, []string{"result"})

	relayCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spantree",
		Subsystem: "relay",
		Name:      "messages_total",
		Help:      "Relay messages by kind and outcome",
	}, []string{"kind", "result"})

	renderRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spantree",
		Subsystem: "topology",
		Name:      "render_rows",
		Help:      "Rows produced per topology render",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	renderTruncated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spantree",
		Subsystem: "topology",
		Name:      "render_truncated_total",
		Help:      "Renders that hit the row cap and dropped servers",
	})

	usersSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spantree",
		Subsystem: "topology",
		Name:      "user_counts_skipped_total",
		Help:      "User count changes dropped because the server was not linked",
	})

	treeServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spantree",
		Subsystem: "topology",
		Name:      "servers",
		Help:      "Servers in the local view of the network",
	})
)

const (
	resultLocal        = "local"
	resultForwarded    = "forwarded"
	resultNoSuchServer = "no_such_server"

	relaySent      = "sent"
	relayDelivered = "delivered"
	relayDropped   = "dropped"
	relayFailed    = "failed"
)

func init() {
	prometheus.MustRegister(queryCount, relayCount, renderRows, renderTruncated, usersSkipped, treeServers)
}
