// Package strategy prices managed strategies: each variant answers what APR
// it would earn if its debt moved by a signed delta.
package strategy

import (
	"context"
	"errors"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

var ErrNegativeAPR = errors.New("negative apr")

// Strategy is the APR oracle the allocator ranks strategies with.
// A positive delta is a deposit, a negative one a withdrawal.
type Strategy interface {
	ID() model.StrategyID
	EstimatedAPRAfterDelta(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error)
}

// DebtReader is the slice of the ledger a strategy needs to know how much
// capital it currently holds.
type DebtReader interface {
	CurrentDebt(ctx context.Context, id model.StrategyID) (decimal.Decimal, error)
}

// exposure is the debt after applying delta, never below zero.
func exposure(ctx context.Context, debts DebtReader, id model.StrategyID, delta decimal.Decimal) (decimal.Decimal, error) {
	debt, err := debts.CurrentDebt(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if debt.IsNegative() {
		debt = decimal.Zero
	}
	total := debt.Add(delta)
	if total.IsNegative() {
		return decimal.Zero, nil
	}
	return total, nil
}

func floorAPR(apr decimal.Decimal) decimal.Decimal {
	if apr.IsNegative() {
		return decimal.Zero
	}
	return apr.Floor()
}
