package strategy

import (
	"context"
	"fmt"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

const bps = 10_000

// LendingParams describe a money market with a kinked interest-rate curve.
// Rates use the same fixed-point scale as the APRs they produce.
type LendingParams struct {
	Borrowed         decimal.Decimal
	OtherSupply      decimal.Decimal
	BaseRate         decimal.Decimal
	Slope1           decimal.Decimal
	Slope2           decimal.Decimal
	KinkBPS          uint16
	ReserveFactorBPS uint16
}

// LendingMarket supplies its debt to a lending pool. Depositing more lowers
// utilization and with it the supply rate.
type LendingMarket struct {
	id     model.StrategyID
	params LendingParams
	debts  DebtReader
}

func NewLendingMarket(id model.StrategyID, params LendingParams, debts DebtReader) *LendingMarket {
	return &LendingMarket{id: id, params: params, debts: debts}
}

func (m *LendingMarket) ID() model.StrategyID { return m.id }

func (m *LendingMarket) EstimatedAPRAfterDelta(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	debt, err := exposure(ctx, m.debts, m.id, delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lending %s: %w", m.id.Hex(), err)
	}
	supply := m.params.OtherSupply.Add(debt)
	u := utilization(m.params.Borrowed, supply)

	reserveShare := decimal.NewFromInt(bps - int64(m.params.ReserveFactorBPS)).Div(decimal.NewFromInt(bps))
	return floorAPR(m.borrowRate(u).Mul(u).Mul(reserveShare)), nil
}

// borrowRate walks the two-slope curve: gentle up to the kink, steep after.
func (m *LendingMarket) borrowRate(u decimal.Decimal) decimal.Decimal {
	kink := decimal.NewFromInt(int64(m.params.KinkBPS)).Div(decimal.NewFromInt(bps))
	one := decimal.NewFromInt(1)

	switch {
	case kink.IsZero():
		return m.params.BaseRate.Add(m.params.Slope1.Mul(u))
	case u.LessThanOrEqual(kink):
		return m.params.BaseRate.Add(m.params.Slope1.Mul(u).Div(kink))
	case kink.GreaterThanOrEqual(one):
		return m.params.BaseRate.Add(m.params.Slope1)
	default:
		excess := u.Sub(kink).Div(one.Sub(kink))
		return m.params.BaseRate.Add(m.params.Slope1).Add(m.params.Slope2.Mul(excess))
	}
}

func utilization(borrowed, supply decimal.Decimal) decimal.Decimal {
	if !supply.IsPositive() || !borrowed.IsPositive() {
		return decimal.Zero
	}
	u := borrowed.Div(supply)
	if u.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return u
}
