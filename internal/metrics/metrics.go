// Package metrics holds the prometheus collectors of the round engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors so tests can use a private registry.
type Metrics struct {
	Registrations *prometheus.CounterVec
	Draws         *prometheus.CounterVec
	Payouts       *prometheus.CounterVec
	ActivePrize   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_registrations_total",
			Help: "Registration attempts by result code.",
		}, []string{"result"}),
		Draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_draws_total",
			Help: "Round advances by outcome.",
		}, []string{"outcome"}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lottery_payouts_total",
			Help: "Payout attempts by resulting status.",
		}, []string{"status"}),
		ActivePrize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lottery_active_prize_amount",
			Help: "Prize pool of the active round.",
		}),
	}
	reg.MustRegister(m.Registrations, m.Draws, m.Payouts, m.ActivePrize)
	return m
}
