package strategy

import (
	"context"
	"fmt"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

// Linear yields base - slope * debt: every unit of capital dilutes the
// return by slope. The APR never goes below zero.
type Linear struct {
	id    model.StrategyID
	base  decimal.Decimal
	slope decimal.Decimal
	debts DebtReader
}

func NewLinear(id model.StrategyID, base, slope decimal.Decimal, debts DebtReader) *Linear {
	return &Linear{id: id, base: base, slope: slope, debts: debts}
}

func (l *Linear) ID() model.StrategyID { return l.id }

func (l *Linear) EstimatedAPRAfterDelta(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	debt, err := exposure(ctx, l.debts, l.id, delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("linear %s: %w", l.id.Hex(), err)
	}
	return floorAPR(l.base.Sub(l.slope.Mul(debt))), nil
}
