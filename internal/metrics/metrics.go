// Package metrics exposes allocator state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"DebtAllocator/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry with OpenMetrics enabled.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Collector feeds engine, vault and fee events into the package gauges.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

func (Collector) ObserveEvaluation(p *model.AllocationProposal, elapsed time.Duration) {
	EvaluationLatency.Observe(elapsed.Seconds())
	observeProposal(p)
}

func (Collector) ObserveExecution(res *model.ExecutionResult, err error) {
	switch {
	case err != nil:
		ExecutionsTotal.WithLabelValues("failed").Inc()
		return
	case res.Moved():
		ExecutionsTotal.WithLabelValues("moved").Inc()
	default:
		ExecutionsTotal.WithLabelValues("noop").Inc()
	}
	AmountMoved.WithLabelValues("withdrawn").Add(res.DonorAmountWithdrawn.InexactFloat64())
	AmountMoved.WithLabelValues("deposited").Add(res.ReceiverAmountDeposited.InexactFloat64())
	observeProposal(&res.Proposal)
}

// ObserveVault refreshes balance gauges from a vault snapshot.
func (Collector) ObserveVault(state *model.VaultState) {
	IdleBalance.Set(state.IdleBalance.InexactFloat64())
	StrategyDebt.Reset()
	for id, acc := range state.Strategies {
		StrategyDebt.WithLabelValues(id.Hex()).Set(acc.CurrentDebt.InexactFloat64())
	}
}

func (Collector) ObserveFeeReport(r model.FeeReport) {
	FeesCharged.Add(r.Fees.InexactFloat64())
}

func observeProposal(p *model.AllocationProposal) {
	DeployableIdle.Set(p.Liquidity.DeployableIdle.InexactFloat64())
	if p.Empty() {
		return
	}
	ProposalAPR.WithLabelValues("donor").Set(p.DonorCurrentAPR.InexactFloat64())
	ProposalAPR.WithLabelValues("receiver").Set(p.ReceiverCurrentAPR.InexactFloat64())
	ProposalAPR.WithLabelValues("receiver_absorbed").Set(p.ReceiverAPRIfFullAbsorption.InexactFloat64())
	if p.Profitable {
		ProposalProfitable.Set(1)
	} else {
		ProposalProfitable.Set(0)
	}
}
