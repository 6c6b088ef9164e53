// Package metrics exposes Prometheus collectors for the ledger server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the ledger server collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RewardsApplied   *prometheus.CounterVec
	RewardsDuplicate prometheus.Counter
	StoreErrors      *prometheus.CounterVec
	LeaderboardCache *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RewardsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinflip",
			Subsystem: "ledger",
			Name:      "rewards_applied_total",
			Help:      "Rewards applied to the XP ledger, by outcome.",
		}, []string{"outcome"}),
		RewardsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinflip",
			Subsystem: "ledger",
			Name:      "rewards_duplicate_total",
			Help:      "Reward requests for an already processed game.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinflip",
			Subsystem: "ledger",
			Name:      "store_errors_total",
			Help:      "Ledger store failures, by operation.",
		}, []string{"op"}),
		LeaderboardCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinflip",
			Subsystem: "leaderboard",
			Name:      "cache_requests_total",
			Help:      "Leaderboard cache lookups, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.RewardsApplied, m.RewardsDuplicate, m.StoreErrors, m.LeaderboardCache)
	return m
}

// RewardApplied counts an applied reward.
func (m *Metrics) RewardApplied(won bool) {
	if m == nil {
		return
	}
	outcome := "loss"
	if won {
		outcome = "win"
	}
	m.RewardsApplied.WithLabelValues(outcome).Inc()
}

// RewardDuplicate counts a reward request for an already processed game.
func (m *Metrics) RewardDuplicate() {
	if m == nil {
		return
	}
	m.RewardsDuplicate.Inc()
}

// StoreError counts a store failure for op.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// CacheLookup counts a leaderboard cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.LeaderboardCache.WithLabelValues(result).Inc()
}
