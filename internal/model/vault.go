package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyAccount is the vault's record of one strategy.
type StrategyAccount struct {
	Activation  time.Time       `json:"activation"`
	LastReport  time.Time       `json:"last_report"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	MaxDebt     decimal.Decimal `json:"max_debt"`
	// TotalAssets is what the strategy actually holds; it drifts from
	// CurrentDebt with unreported gains or losses.
	TotalAssets decimal.Decimal `json:"total_assets"`
}

// VaultState tracks the custodian's balances.
type VaultState struct {
	IdleBalance     decimal.Decimal                 `json:"idle_balance"`
	MinimumIdle     decimal.Decimal                 `json:"minimum_idle"`
	AccruedFees     decimal.Decimal                 `json:"accrued_fees"`
	Strategies      map[StrategyID]*StrategyAccount `json:"strategies"`
	StrategyOrder   []StrategyID                    `json:"strategy_order"`
	LastRebalanceAt time.Time                       `json:"last_rebalance_at"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

// TotalDebt sums the debt of every strategy.
func (s *VaultState) TotalDebt() decimal.Decimal {
	total := decimal.Zero
	for _, acc := range s.Strategies {
		total = total.Add(acc.CurrentDebt)
	}
	return total
}

// TotalAssets is idle plus total debt.
func (s *VaultState) TotalAssets() decimal.Decimal {
	return s.IdleBalance.Add(s.TotalDebt())
}

// Clone returns a deep copy.
func (s *VaultState) Clone() *VaultState {
	out := *s
	out.Strategies = make(map[StrategyID]*StrategyAccount, len(s.Strategies))
	for id, acc := range s.Strategies {
		cp := *acc
		out.Strategies[id] = &cp
	}
	out.StrategyOrder = append([]StrategyID(nil), s.StrategyOrder...)
	return &out
}
