package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_published_events",
		Help: "Counter for events passed to the notifier, by kind and whether they were dispatched or suppressed.",
	}, []string{"kind", "result"})
	subscriberFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_subscriber_failures",
		Help: "Counter for errors returned by subscribers while handling an event.",
	}, []string{"subscriber"})
)

func init() {
	prometheus.MustRegister(eventsPublished, subscriberFailures)
}
