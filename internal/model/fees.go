package model

import "github.com/shopspring/decimal"

// FeeConfig holds the fees charged on one strategy, in basis points.
type FeeConfig struct {
	ManagementFee  uint16 `json:"management_fee"`
	PerformanceFee uint16 `json:"performance_fee"`
}

// FeeReport is the outcome of a strategy report.
type FeeReport struct {
	Strategy StrategyID      `json:"strategy"`
	Gain     decimal.Decimal `json:"gain"`
	Loss     decimal.Decimal `json:"loss"`
	Fees     decimal.Decimal `json:"fees"`
	Refunds  decimal.Decimal `json:"refunds"`
}
