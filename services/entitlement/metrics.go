package entitlement

import "github.com/prometheus/client_golang/prometheus"

var (
	decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_entitlement_decisions_total",
		Help: "Entitlement and usage-limit decisions by reason and outcome.",
	}, []string{"reason", "allowed"})
	accessAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_access_attempts_total",
		Help: "Audited access attempts by reason and verdict.",
	}, []string{"reason", "verdict"})
	upsellSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_upsell_signals_total",
		Help: "Upsell signals emitted by trigger.",
	}, []string{"trigger"})
	lookupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "license_entitlement_lookup_failures_total",
		Help: "Entitlement lookups that failed and fell back to the enforcement mode.",
	})
)

func init() {
	prometheus.MustRegister(decisions, accessAttempts, upsellSignals, lookupFailures)
}

func observe(d Decision) {
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	reason := string(d.Reason)
	if reason == "" {
		reason = "none"
	}
	decisions.WithLabelValues(reason, allowed).Inc()
}
