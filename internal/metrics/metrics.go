package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenmeter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	EnforcementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_enforcement_total",
			Help: "Usage increment requests by enforcement result.",
		},
		[]string{"result"},
	)

	TokensAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_tokens_admitted_total",
			Help: "Tokens added to the usage ledger.",
		},
		[]string{"direction"},
	)

	EventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_events_appended_total",
			Help: "Usage events appended to the event log.",
		},
		[]string{"source"},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_consumer_messages_total",
			Help: "Ingestion consumer messages by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EnforcementTotal,
		TokensAdmittedTotal,
		EventsAppendedTotal,
		ConsumerMessagesTotal,
	)
}
