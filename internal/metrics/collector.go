// Package ofcoremetrics exposes the Prometheus collector shared by the
// Agent, LinkDiscovery, and DeviceDb components.
package ofcoremetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "ofcore"
)

// Label names.
const (
	labelDPID    = "dpid"
	labelOutcome = "outcome"
	labelMatched = "matched"
)

// -------------------------------------------------------------------------
// Collector — Prometheus ofcore Metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric the controller core records
// against.
//
//   - Agent session gauges and completion-outcome counters track request
//     volume and failure mix per switch.
//   - LinkDiscovery counters and a gauge track link churn and the live set.
//   - DeviceDb counters track query volume split by hit/miss.
type Collector struct {
	// AgentSessionsOpen tracks the number of currently outstanding Agent
	// sessions (requests awaiting a reply or barrier sweep), per switch.
	AgentSessionsOpen *prometheus.GaugeVec

	// AgentSessionsClosed counts completed Agent sessions labeled by their
	// terminal outcome (success, openflow_error, bad_reply, not_responded,
	// request_error).
	AgentSessionsClosed *prometheus.CounterVec

	// LinksDiscovered counts links that transitioned Waiting -> Alive.
	LinksDiscovered prometheus.Counter

	// LinksBroken counts links that transitioned Alive -> Broken, whether
	// by expiry or an explicit port-down.
	LinksBroken prometheus.Counter

	// LinksAliveGauge tracks the current size of the live link set.
	LinksAliveGauge prometheus.Gauge

	// DeviceDBQueries counts DeviceDb lookups labeled by whether any
	// property matched.
	DeviceDBQueries *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.AgentSessionsOpen,
		c.AgentSessionsClosed,
		c.LinksDiscovered,
		c.LinksBroken,
		c.LinksAliveGauge,
		c.DeviceDBQueries,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		AgentSessionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "sessions_open",
			Help:      "Number of currently outstanding Agent sessions per switch.",
		}, []string{labelDPID}),

		AgentSessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "sessions_closed_total",
			Help:      "Total completed Agent sessions labeled by terminal outcome.",
		}, []string{labelDPID, labelOutcome}),

		LinksDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linkdiscovery",
			Name:      "links_discovered_total",
			Help:      "Total links that transitioned from waiting to alive.",
		}),

		LinksBroken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linkdiscovery",
			Name:      "links_broken_total",
			Help:      "Total links that transitioned from alive to broken.",
		}),

		LinksAliveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "linkdiscovery",
			Name:      "links_alive",
			Help:      "Current number of live links.",
		}),

		DeviceDBQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devicedb",
			Name:      "queries_total",
			Help:      "Total DeviceDb queries labeled by whether any property matched.",
		}, []string{labelMatched}),
	}
}

// -------------------------------------------------------------------------
// Agent Session Accounting
// -------------------------------------------------------------------------

// AgentSessionOpened increments the open-sessions gauge for dpid. Called
// when a new Agent session is enqueued.
func (c *Collector) AgentSessionOpened(dpid uint64) {
	c.AgentSessionsOpen.WithLabelValues(dpidLabel(dpid)).Inc()
}

// AgentSessionClosed decrements the open-sessions gauge for dpid and
// increments the closed-sessions counter labeled with outcome. Called once
// per session, exactly when its future completes.
func (c *Collector) AgentSessionClosed(dpid uint64, outcome string) {
	c.AgentSessionsOpen.WithLabelValues(dpidLabel(dpid)).Dec()
	c.AgentSessionsClosed.WithLabelValues(dpidLabel(dpid), outcome).Inc()
}

// -------------------------------------------------------------------------
// LinkDiscovery Accounting
// -------------------------------------------------------------------------

// LinkDiscovered increments the links-discovered counter.
func (c *Collector) LinkDiscovered() {
	c.LinksDiscovered.Inc()
}

// LinkBroken increments the links-broken counter.
func (c *Collector) LinkBroken() {
	c.LinksBroken.Inc()
}

// LinksAlive sets the live-link gauge to n.
func (c *Collector) LinksAlive(n int) {
	c.LinksAliveGauge.Set(float64(n))
}

// -------------------------------------------------------------------------
// DeviceDb Accounting
// -------------------------------------------------------------------------

// DeviceDBQuery increments the queries counter labeled by whether the
// lookup matched at least one property.
func (c *Collector) DeviceDBQuery(matched bool) {
	c.DeviceDBQueries.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

func dpidLabel(dpid uint64) string {
	return strconv.FormatUint(dpid, 16)
}
