// Package metrics exposes the control plane's Prometheus collectors: one
// per subsystem, registered idempotently against whatever registerer the
// caller supplies.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	sloEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "slo_evaluations_total",
			Help:      "SLO evaluations, partitioned by resulting status.",
		},
		[]string{"status"},
	)

	costChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "cost_checks_total",
			Help:      "check_task outcomes, partitioned by reason code.",
		},
		[]string{"reason"},
	)

	costKillSwitchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "cost_kill_switch_total",
			Help:      "Number of times the cost guard kill switch engaged.",
		},
	)

	chaosExperimentStateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "chaos_experiment_state_total",
			Help:      "Chaos experiment lifecycle transitions, partitioned by resulting state.",
		},
		[]string{"state"},
	)

	rolloutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "rollout_transitions_total",
			Help:      "Rollout state-machine transitions, partitioned by resulting state.",
		},
		[]string{"state"},
	)

	incidentsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened, partitioned by severity.",
		},
		[]string{"severity"},
	)

	incidentsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "incidents_resolved_total",
			Help:      "Incidents that reached RESOLVED.",
		},
	)

	breakerStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "breaker_state_transitions_total",
			Help:      "Circuit breaker state transitions, partitioned by agent and resulting state.",
		},
		[]string{"agent_id", "state"},
	)

	alertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent_sre",
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery attempts, partitioned by channel and result.",
		},
		[]string{"channel", "result"},
	)

	fleetAgentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agent_sre",
			Name:      "fleet_agent_health",
			Help:      "Current fleet agent health: 0=healthy, 1=degraded, 2=unresponsive.",
		},
		[]string{"agent_id"},
	)
)

// Register attaches every collector to reg, skipping ones already
// registered so Register is safe to call more than once against the
// same registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		sloEvaluationsTotal,
		costChecksTotal,
		costKillSwitchTotal,
		chaosExperimentStateTotal,
		rolloutTransitionsTotal,
		incidentsOpenedTotal,
		incidentsResolvedTotal,
		breakerStateTransitionsTotal,
		alertDeliveriesTotal,
		fleetAgentHealth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSLOEvaluation records the status an SLO evaluation produced.
func ObserveSLOEvaluation(status string) {
	sloEvaluationsTotal.WithLabelValues(status).Inc()
}

// ObserveCostCheck records a check_task reason code.
func ObserveCostCheck(reason string) {
	costChecksTotal.WithLabelValues(reason).Inc()
}

// ObserveCostKillSwitch increments the kill-switch counter.
func ObserveCostKillSwitch() {
	costKillSwitchTotal.Inc()
}

// ObserveChaosState records a chaos experiment entering state.
func ObserveChaosState(state string) {
	chaosExperimentStateTotal.WithLabelValues(state).Inc()
}

// ObserveRolloutTransition records a rollout entering state.
func ObserveRolloutTransition(state string) {
	rolloutTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveIncidentOpened records a newly opened incident's severity.
func ObserveIncidentOpened(severity string) {
	incidentsOpenedTotal.WithLabelValues(severity).Inc()
}

// ObserveIncidentResolved increments the resolved-incidents counter.
func ObserveIncidentResolved() {
	incidentsResolvedTotal.Inc()
}

// ObserveBreakerTransition records agentID's breaker entering state.
func ObserveBreakerTransition(agentID, state string) {
	breakerStateTransitionsTotal.WithLabelValues(agentID, state).Inc()
}

// ObserveAlertDelivery records one channel delivery attempt's result
// (delivered, error, suppressed, rate_limited).
func ObserveAlertDelivery(channel, result string) {
	alertDeliveriesTotal.WithLabelValues(channel, result).Inc()
}

// SetFleetAgentHealth publishes agentID's current health as a gauge
// value: 0 healthy, 1 degraded, 2 unresponsive.
func SetFleetAgentHealth(agentID string, health float64) {
	fleetAgentHealth.WithLabelValues(agentID).Set(health)
}
