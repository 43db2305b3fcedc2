package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakeMetrics instruments the staking and voting engines as observed at the
// RPC boundary.
type StakeMetrics struct {
	stakingOps   *prometheus.CounterVec
	votingOps    *prometheus.CounterVec
	opRejections *prometheus.CounterVec
	poolSupply   *prometheus.GaugeVec
	votesCast    prometheus.Counter
}

var (
	stakeOnce     sync.Once
	stakeRegistry *StakeMetrics
)

// Stake returns the process-wide staking metric set, registering it on first
// use.
func Stake() *StakeMetrics {
	stakeOnce.Do(func() {
		stakeRegistry = &StakeMetrics{
			stakingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakereg_staking_ops_total",
				Help: "Count of accepted staking engine operations by name.",
			}, []string{"op"}),
			votingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakereg_voting_ops_total",
				Help: "Count of accepted voting engine operations by name.",
			}, []string{"op"}),
			opRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakereg_op_rejections_total",
				Help: "Count of rejected engine operations by name.",
			}, []string{"op"}),
			poolSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stakereg_pool_supply",
				Help: "Pool-share supply tracked per registrar.",
			}, []string{"registrar"}),
			votesCast: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stakereg_votes_cast_total",
				Help: "Total ballots recorded across polls and proposals.",
			}),
		}
		prometheus.MustRegister(
			stakeRegistry.stakingOps,
			stakeRegistry.votingOps,
			stakeRegistry.opRejections,
			stakeRegistry.poolSupply,
			stakeRegistry.votesCast,
		)
	})
	return stakeRegistry
}

// ObserveStakingOp records the outcome of a staking engine call.
func (m *StakeMetrics) ObserveStakingOp(op string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.opRejections.WithLabelValues(op).Inc()
		return
	}
	m.stakingOps.WithLabelValues(op).Inc()
}

// ObserveVotingOp records the outcome of a voting engine call.
func (m *StakeMetrics) ObserveVotingOp(op string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.opRejections.WithLabelValues(op).Inc()
		return
	}
	m.votingOps.WithLabelValues(op).Inc()
}

// SetPoolSupply publishes the registrar's tracked pool-share supply.
func (m *StakeMetrics) SetPoolSupply(registrar string, supply float64) {
	if m == nil {
		return
	}
	m.poolSupply.WithLabelValues(registrar).Set(supply)
}

// VoteCast increments the ballot counter.
func (m *StakeMetrics) VoteCast() {
	if m == nil {
		return
	}
	m.votesCast.Inc()
}
