package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_executions_total",
		Help: "Execute calls by outcome (moved, noop, failed)",
	}, []string{"outcome"})

	AmountMoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_amount_moved_total",
		Help: "Capital moved by Execute, in asset base units",
	}, []string{"direction"})

	ProposalAPR = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_proposal_apr",
		Help: "APRs of the last proposal (18-decimal fixed point)",
	}, []string{"role"})

	ProposalProfitable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocator_proposal_profitable",
		Help: "1 if the last proposal was profitable",
	})

	DeployableIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocator_deployable_idle",
		Help: "Idle capital above the minimum buffer at the last evaluation",
	})

	EvaluationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocator_evaluation_latency_seconds",
		Help:    "Time to compute a proposal",
		Buckets: prometheus.DefBuckets,
	})

	StrategyDebt = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_strategy_debt",
		Help: "Current debt per strategy",
	}, []string{"strategy"})

	IdleBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocator_idle_balance",
		Help: "Vault idle balance",
	})

	FeesCharged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocator_fees_charged_total",
		Help: "Fees charged on strategy reports",
	})
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		AmountMoved,
		ProposalAPR,
		ProposalProfitable,
		DeployableIdle,
		EvaluationLatency,
		StrategyDebt,
		IdleBalance,
		FeesCharged,
	)
}
