// Package metrics defines the daemon's prometheus collectors: focus
// stack depth, connection counts, controller/controllee counts, and
// parcel codec error counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every gauge/counter the daemon exposes. MustRegister
// installs them all on a registry; a fresh Collectors should be built
// per-registry (tests use their own prometheus.NewRegistry()).
type Collectors struct {
	ActiveConnections prometheus.Gauge
	FocusStackDepth   prometheus.Gauge
	Controllers       prometheus.Gauge
	Controllees       prometheus.Gauge
	ParcelDecodeErrors prometheus.Counter
	HandlerErrors      *prometheus.CounterVec
}

// New builds a fresh set of collectors with the "mediad_" namespace.
func New() *Collectors {
	return &Collectors{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediad",
			Name:      "active_connections",
			Help:      "Number of currently open client connections.",
		}),
		FocusStackDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediad",
			Name:      "focus_stack_depth",
			Help:      "Current depth of the focus arbiter stack.",
		}),
		Controllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediad",
			Name:      "session_controllers",
			Help:      "Number of currently registered session controllers.",
		}),
		Controllees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediad",
			Name:      "session_controllees",
			Help:      "Number of currently registered session controllees.",
		}),
		ParcelDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediad",
			Name:      "parcel_decode_errors_total",
			Help:      "Total number of parcels that failed to decode.",
		}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediad",
			Name:      "handler_errors_total",
			Help:      "Total number of module handler calls that returned a negative result, by module.",
		}, []string{"module"}),
	}
}

// MustRegister installs every collector on reg, panicking on a
// duplicate-registration error the way prometheus.MustRegister always
// does — this only happens on a programming mistake (registering twice
// on the same registry), not at runtime from user input.
func (c *Collectors) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.ActiveConnections,
		c.FocusStackDepth,
		c.Controllers,
		c.Controllees,
		c.ParcelDecodeErrors,
		c.HandlerErrors,
	)
}
