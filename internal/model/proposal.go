package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyRegistry is returned when a proposal is addressed while fewer than
// two strategies are registered.
var ErrEmptyRegistry = errors.New("fewer than two strategies registered")

// TriggerType indicates what started an allocation run.
type TriggerType string

const (
	TriggerScheduled TriggerType = "SCHEDULED"
	TriggerManual    TriggerType = "MANUAL"
	TriggerAPI       TriggerType = "API"
	TriggerCommand   TriggerType = "COMMAND"
)

// LiquidityBudget is the idle capital the vault can deploy right now.
type LiquidityBudget struct {
	IdleBalance    decimal.Decimal `json:"idle_balance"`
	MinimumIdle    decimal.Decimal `json:"minimum_idle"`
	DeployableIdle decimal.Decimal `json:"deployable_idle"`
}

// NewLiquidityBudget derives the deployable idle, floored at zero.
func NewLiquidityBudget(idle, minimum decimal.Decimal) LiquidityBudget {
	deployable := idle.Sub(minimum)
	if deployable.IsNegative() {
		deployable = decimal.Zero
	}
	return LiquidityBudget{
		IdleBalance:    idle,
		MinimumIdle:    minimum,
		DeployableIdle: deployable,
	}
}

// AllocationProposal is the result of one evaluation pass. It is rebuilt on
// every call and describes a single donor -> receiver move.
type AllocationProposal struct {
	DonorIndex    *int       `json:"donor_index,omitempty"`
	ReceiverIndex *int       `json:"receiver_index,omitempty"`
	Donor         StrategyID `json:"donor"`
	Receiver      StrategyID `json:"receiver"`

	DonorCurrentAPR             decimal.Decimal `json:"donor_current_apr"`
	ReceiverCurrentAPR          decimal.Decimal `json:"receiver_current_apr"`
	ReceiverAPRIfFullAbsorption decimal.Decimal `json:"receiver_apr_if_full_absorption"`

	Profitable         bool            `json:"profitable"`
	TransferableAmount decimal.Decimal `json:"transferable_amount"`
	Liquidity          LiquidityBudget `json:"liquidity"`
	EvaluatedAt        time.Time       `json:"evaluated_at"`
}

// Empty reports whether the proposal names no donor/receiver pair.
func (p *AllocationProposal) Empty() bool {
	return p == nil || p.DonorIndex == nil || p.ReceiverIndex == nil
}

// Pair returns the donor and receiver indices.
func (p *AllocationProposal) Pair() (donor, receiver int, err error) {
	if p.Empty() {
		return 0, 0, ErrEmptyRegistry
	}
	return *p.DonorIndex, *p.ReceiverIndex, nil
}

// ExecutionResult reports what a single Execute call moved.
type ExecutionResult struct {
	Proposal                AllocationProposal `json:"proposal"`
	DonorAmountWithdrawn    decimal.Decimal    `json:"donor_amount_withdrawn"`
	ReceiverAmountDeposited decimal.Decimal    `json:"receiver_amount_deposited"`
	Trigger                 TriggerType        `json:"trigger"`
	ExecutedAt              time.Time          `json:"executed_at"`
}

// Moved reports whether any capital changed hands.
func (r *ExecutionResult) Moved() bool {
	return r.DonorAmountWithdrawn.IsPositive() || r.ReceiverAmountDeposited.IsPositive()
}
