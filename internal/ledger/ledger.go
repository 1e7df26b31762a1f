// Package ledger defines the custodian contract the allocator drives and
// ships Vault, an in-process custodian that honours it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrCapExceeded           = errors.New("max debt exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrUnknownStrategy       = errors.New("strategy not active in vault")
	ErrStrategyExists        = errors.New("strategy already active in vault")
	ErrStrategyHasDebt       = errors.New("strategy still has debt")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNoFeeCollector        = errors.New("accountant cannot distribute fees")
)

// Reader exposes the figures the allocator reads on every pass.
type Reader interface {
	CurrentDebt(ctx context.Context, id model.StrategyID) (decimal.Decimal, error)
	MaxDebt(ctx context.Context, id model.StrategyID) (decimal.Decimal, error)
	IdleBalance(ctx context.Context) (decimal.Decimal, error)
	MinimumIdle(ctx context.Context) (decimal.Decimal, error)
}

// Ledger adds the single mutation the allocator issues. SetTargetDebt
// returns the amount that actually moved.
type Ledger interface {
	Reader
	SetTargetDebt(ctx context.Context, id model.StrategyID, target decimal.Decimal) (decimal.Decimal, error)
}

// Transactional is a Ledger that can apply a group of changes all-or-nothing.
// fn must only use the Ledger it is handed.
type Transactional interface {
	Ledger
	Atomically(ctx context.Context, fn func(tx Ledger) error) error
}

// CapPolicy decides what SetTargetDebt does with a target above max debt.
type CapPolicy string

const (
	CapReject CapPolicy = "reject"
	CapClamp  CapPolicy = "clamp"
)

func ParseCapPolicy(s string) (CapPolicy, error) {
	switch CapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CapReject:
		return CapReject, nil
	case CapClamp:
		return CapClamp, nil
	default:
		return "", fmt.Errorf("unknown cap policy %q", s)
	}
}

// Accountant is consulted when a strategy reports its profit or loss.
type Accountant interface {
	Report(ctx context.Context, id model.StrategyID, account model.StrategyAccount, gain, loss decimal.Decimal) (model.FeeReport, error)
}

// FeeCollector is an Accountant that authorizes fee payouts. Distribute
// fails unless caller manages the fees.
type FeeCollector interface {
	Distribute(caller model.StrategyID) (decimal.Decimal, error)
}
