package ledger

import (
	"context"
	"fmt"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

// ProcessReport books the difference between what a strategy holds and its
// recorded debt. Gains and losses become debt, the accountant's fees accrue
// to the vault and its refunds land in idle.
func (v *Vault) ProcessReport(ctx context.Context, id model.StrategyID) (model.FeeReport, error) {
	var report model.FeeReport
	err := v.mutate(func(s *model.VaultState) error {
		acc, ok := s.Strategies[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
		}

		gain, loss := decimal.Zero, decimal.Zero
		diff := acc.TotalAssets.Sub(acc.CurrentDebt)
		if diff.IsPositive() {
			gain = diff
		} else {
			loss = diff.Neg()
		}

		report = model.FeeReport{
			Strategy: id,
			Gain:     gain,
			Loss:     loss,
			Fees:     decimal.Zero,
			Refunds:  decimal.Zero,
		}
		if v.accountant != nil {
			r, err := v.accountant.Report(ctx, id, *acc, gain, loss)
			if err != nil {
				return fmt.Errorf("accountant report: %w", err)
			}
			report.Fees = r.Fees
			report.Refunds = r.Refunds
		}

		acc.CurrentDebt = acc.TotalAssets
		acc.LastReport = v.now()
		s.AccruedFees = s.AccruedFees.Add(report.Fees)
		s.IdleBalance = s.IdleBalance.Add(report.Refunds)

		v.log.Info().
			Str("strategy", id.Hex()).
			Str("gain", gain.String()).
			Str("loss", loss.String()).
			Str("fees", report.Fees.String()).
			Str("refunds", report.Refunds.String()).
			Msg("strategy reported")
		return nil
	})
	return report, err
}
