// Package metrics holds the prometheus counters both daemons update.
// There is deliberately no HTTP exporter here (scoped down from the
// rest of the example pack's usual conniver/sockstats-style metrics
// server): nothing in spec.md calls for an outward-facing metrics
// surface, so this package only gives callers counters to increment,
// leaving exposition to whatever embeds it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private prometheus registry, not the global default:
// embedding code decides whether and how to expose it.
var Registry = prometheus.NewRegistry()

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cuse2net_requests_total",
		Help: "South-side requests sent, by op.",
	}, []string{"op"})

	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cuse2net_responses_total",
		Help: "South-side responses received, by op.",
	}, []string{"op"})

	RemoteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_remote_errors_total",
		Help: "Responses carrying a nonzero errno.",
	})

	ConnectionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_connections_opened_total",
		Help: "TCP connections successfully established for a device open.",
	})

	ConnectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_connections_failed_total",
		Help: "Device opens that failed to establish a TCP connection.",
	})

	DevicesTornDown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_devices_torn_down_total",
		Help: "Devices torn down due to a receiver error (EOF, bad frame).",
	})

	IoctlRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_ioctl_retries_total",
		Help: "FUSE_IOCTL retry elicitations emitted to the kernel.",
	})

	PollWakeupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cuse2net_poll_wakeups_total",
		Help: "Unsolicited poll wakeups received from the south side.",
	})
)

func init() {
	Registry.MustRegister(
		RequestsTotal,
		ResponsesTotal,
		RemoteErrorsTotal,
		ConnectionsOpened,
		ConnectionsFailed,
		DevicesTornDown,
		IoctlRetriesTotal,
		PollWakeupsTotal,
	)
}
