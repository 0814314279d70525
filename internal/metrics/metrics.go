// Package metrics registers the platform's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections counts accepted connections per engine.
	Connections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirage",
		Name:      "connections_total",
		Help:      "Accepted connections per engine.",
	}, []string{"engine"})

	// Commands counts decoded protocol units handed to a backend.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirage",
		Name:      "commands_total",
		Help:      "Decoded commands/requests per engine.",
	}, []string{"engine"})

	// Classifications counts dispatcher pin decisions per backend.
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirage",
		Name:      "dispatch_classifications_total",
		Help:      "Sessions pinned to a backend, by backend name.",
	}, []string{"backend"})

	// Switches counts explicit mid-session backend switches.
	Switches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirage",
		Name:      "dispatch_switches_total",
		Help:      "Mid-session switch_to repins, by target backend.",
	}, []string{"backend"})
)
