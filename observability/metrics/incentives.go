package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type IncentiveMetrics struct {
	deposits      *prometheus.CounterVec
	withdrawals   *prometheus.CounterVec
	rewardsVested *prometheus.CounterVec
	poolsActive   *prometheus.GaugeVec
	oracleStatus  *prometheus.GaugeVec
	rpcRequests   *prometheus.CounterVec
}

var (
	incentiveOnce     sync.Once
	incentiveRegistry *IncentiveMetrics
)

// Incentives returns the process-wide incentive metrics registry.
func Incentives() *IncentiveMetrics {
	incentiveOnce.Do(func() {
		incentiveRegistry = &IncentiveMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "emberlend_deposits_total",
				Help: "Count of stake deposits by distributor.",
			}, []string{"distributor"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "emberlend_withdrawals_total",
				Help: "Count of stake withdrawals by distributor.",
			}, []string{"distributor"}),
			rewardsVested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "emberlend_rewards_vested_total",
				Help: "Count of reward settlements routed into the vesting ledger by distributor.",
			}, []string{"distributor"}),
			poolsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "emberlend_pools_active",
				Help: "Number of registered pools per distributor.",
			}, []string{"distributor"}),
			oracleStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "emberlend_oracle_status",
				Help: "Failover status per asset feed: 0 working, 1 broken, 2 frozen.",
			}, []string{"asset"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "emberlend_rpc_requests_total",
				Help: "Count of RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			incentiveRegistry.deposits,
			incentiveRegistry.withdrawals,
			incentiveRegistry.rewardsVested,
			incentiveRegistry.poolsActive,
			incentiveRegistry.oracleStatus,
			incentiveRegistry.rpcRequests,
		)
	})
	return incentiveRegistry
}

func (m *IncentiveMetrics) ObserveDeposit(distributor string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(distributor).Inc()
}

func (m *IncentiveMetrics) ObserveWithdrawal(distributor string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(distributor).Inc()
}

func (m *IncentiveMetrics) ObserveRewardVested(distributor string) {
	if m == nil {
		return
	}
	m.rewardsVested.WithLabelValues(distributor).Inc()
}

func (m *IncentiveMetrics) SetActivePools(distributor string, count int) {
	if m == nil {
		return
	}
	m.poolsActive.WithLabelValues(distributor).Set(float64(count))
}

func (m *IncentiveMetrics) SetOracleStatus(asset string, status uint8) {
	if m == nil {
		return
	}
	m.oracleStatus.WithLabelValues(asset).Set(float64(status))
}

func (m *IncentiveMetrics) ObserveRPCRequest(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}
