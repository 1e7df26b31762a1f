package notifier

import (
	"fmt"
	"strings"
	"time"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

// APRs are 18-decimal fixed point: 1e18 is 100%.
var percentScale = decimal.New(1, 16)

func formatAPR(apr decimal.Decimal) string {
	return apr.Div(percentScale).StringFixed(4) + "%"
}

func short(id model.StrategyID) string {
	h := id.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// FormatProposal formats an evaluation for Telegram.
func FormatProposal(p *model.AllocationProposal) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>Allocation proposal</b> | %s\n\n", p.EvaluatedAt.Format("2006-01-02 15:04")))

	if p.Empty() {
		b.WriteString("Fewer than two strategies registered, nothing to rebalance.\n")
	} else {
		b.WriteString(fmt.Sprintf("Receiver: %s (APR %s)\n", short(p.Receiver), formatAPR(p.ReceiverCurrentAPR)))
		b.WriteString(fmt.Sprintf("Donor: %s (APR %s)\n", short(p.Donor), formatAPR(p.DonorCurrentAPR)))
		b.WriteString(fmt.Sprintf("Receiver APR after absorbing %s: %s\n", p.TransferableAmount, formatAPR(p.ReceiverAPRIfFullAbsorption)))
		if p.Profitable {
			b.WriteString("✅ Moving the donor's debt is profitable\n")
		} else {
			b.WriteString("⏸ No profitable cross-strategy move\n")
		}
	}

	b.WriteString(fmt.Sprintf("\nIdle: %s | minimum: %s | deployable: %s\n",
		p.Liquidity.IdleBalance, p.Liquidity.MinimumIdle, p.Liquidity.DeployableIdle))
	return b.String()
}

// FormatExecution formats the outcome of an Execute call.
func FormatExecution(res *model.ExecutionResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚙️ <b>Rebalance executed</b> (%s)\n\n", res.Trigger))
	if !res.Moved() {
		b.WriteString("Nothing moved.\n")
		return b.String()
	}
	p := res.Proposal
	if res.DonorAmountWithdrawn.IsPositive() {
		b.WriteString(fmt.Sprintf("Withdrawn from %s: %s\n", short(p.Donor), res.DonorAmountWithdrawn))
	}
	if res.ReceiverAmountDeposited.IsPositive() {
		b.WriteString(fmt.Sprintf("Deposited into %s: %s\n", short(p.Receiver), res.ReceiverAmountDeposited))
	}
	return b.String()
}

// FormatExecutionError formats a failed Execute call.
func FormatExecutionError(trigger model.TriggerType, err error) string {
	return fmt.Sprintf("❌ <b>Rebalance failed</b> (%s)\n\n%v", trigger, err)
}

// FormatVaultStatus formats the vault balances for display.
func FormatVaultStatus(state *model.VaultState) string {
	var b strings.Builder
	b.WriteString("📦 <b>Vault status</b>\n\n")
	b.WriteString(fmt.Sprintf("Total assets: %s\n", state.TotalAssets()))
	b.WriteString(fmt.Sprintf("Total debt: %s\n", state.TotalDebt()))
	b.WriteString(fmt.Sprintf("Idle: %s (minimum %s)\n", state.IdleBalance, state.MinimumIdle))
	if state.AccruedFees.IsPositive() {
		b.WriteString(fmt.Sprintf("Accrued fees: %s\n", state.AccruedFees))
	}
	if len(state.StrategyOrder) > 0 {
		b.WriteString("\n<b>Strategies:</b>\n")
		for _, id := range state.StrategyOrder {
			acc, ok := state.Strategies[id]
			if !ok {
				continue
			}
			b.WriteString(fmt.Sprintf("  %s debt %s / max %s\n", short(id), acc.CurrentDebt, acc.MaxDebt))
		}
	}
	if !state.LastRebalanceAt.IsZero() {
		b.WriteString(fmt.Sprintf("\nLast rebalance: %s\n", state.LastRebalanceAt.Format("2006-01-02 15:04")))
	}
	return b.String()
}

// FormatFeeReports summarises one report run.
func FormatFeeReports(at time.Time, reports []model.FeeReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🧾 <b>Strategy reports</b> | %s\n\n", at.Format("2006-01-02")))
	if len(reports) == 0 {
		b.WriteString("No strategies reported.\n")
		return b.String()
	}
	for _, r := range reports {
		switch {
		case r.Gain.IsPositive():
			b.WriteString(fmt.Sprintf("  %s gain %s, fees %s\n", short(r.Strategy), r.Gain, r.Fees))
		case r.Loss.IsPositive():
			b.WriteString(fmt.Sprintf("  %s loss %s, refunds %s\n", short(r.Strategy), r.Loss, r.Refunds))
		default:
			b.WriteString(fmt.Sprintf("  %s unchanged\n", short(r.Strategy)))
		}
	}
	return b.String()
}
