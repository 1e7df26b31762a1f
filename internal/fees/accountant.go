// Package fees charges management and performance fees when strategies
// report, and optionally refunds losses from a reserve it holds.
package fees

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DebtAllocator/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	MaxBPS = 10_000

	DefaultManagementFeeThreshold  = 1_000
	DefaultPerformanceFeeThreshold = 1_000

	// Fees never take more than this share of a gain.
	MaxGainShareBPS = 7_500

	secondsPerYear = 365 * 24 * 3600
)

var (
	ErrNotFeeManager       = errors.New("not fee manager")
	ErrNotFutureFeeManager = errors.New("not future fee manager")
	ErrFeeThreshold        = errors.New("exceeds fee threshold")
)

// Accountant is the fee collaborator consulted by the vault on reports.
type Accountant struct {
	mu sync.Mutex

	feeManager       model.StrategyID
	futureFeeManager model.StrategyID

	managementThreshold  uint16
	performanceThreshold uint16
	fees                 map[model.StrategyID]model.FeeConfig

	refunds bool
	reserve decimal.Decimal
	accrued decimal.Decimal

	filePath string
	restored bool

	now func() time.Time
	log zerolog.Logger
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithRefunds makes the accountant cover losses from its reserve.
func WithRefunds() Option { return func(a *Accountant) { a.refunds = true } }

func WithThresholds(management, performance uint16) Option {
	return func(a *Accountant) {
		a.managementThreshold = management
		a.performanceThreshold = performance
	}
}

func WithClock(now func() time.Time) Option { return func(a *Accountant) { a.now = now } }

func WithLogger(log zerolog.Logger) Option {
	return func(a *Accountant) { a.log = log.With().Str("component", "accountant").Logger() }
}

func New(feeManager model.StrategyID, opts ...Option) *Accountant {
	a := &Accountant{
		feeManager:           feeManager,
		managementThreshold:  DefaultManagementFeeThreshold,
		performanceThreshold: DefaultPerformanceFeeThreshold,
		fees:                 make(map[model.StrategyID]model.FeeConfig),
		reserve:              decimal.Zero,
		accrued:              decimal.Zero,
		now:                  time.Now,
		log:                  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accountant) FeeManager() model.StrategyID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.feeManager
}

func (a *Accountant) FutureFeeManager() model.StrategyID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.futureFeeManager
}

func (a *Accountant) ManagementFeeThreshold() uint16  { return a.managementThreshold }
func (a *Accountant) PerformanceFeeThreshold() uint16 { return a.performanceThreshold }

// Fees returns the fee configuration of a strategy; zero if never set.
func (a *Accountant) Fees(id model.StrategyID) model.FeeConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fees[id]
}

func (a *Accountant) SetManagementFee(caller, id model.StrategyID, bps uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.feeManager {
		return ErrNotFeeManager
	}
	if bps > a.managementThreshold {
		return fmt.Errorf("%w: management fee %d > %d", ErrFeeThreshold, bps, a.managementThreshold)
	}
	cfg := a.fees[id]
	cfg.ManagementFee = bps
	a.fees[id] = cfg
	a.log.Info().Str("strategy", id.Hex()).Uint16("management_fee", bps).Msg("management fee updated")
	return a.persist()
}

func (a *Accountant) SetPerformanceFee(caller, id model.StrategyID, bps uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.feeManager {
		return ErrNotFeeManager
	}
	if bps > a.performanceThreshold {
		return fmt.Errorf("%w: performance fee %d > %d", ErrFeeThreshold, bps, a.performanceThreshold)
	}
	cfg := a.fees[id]
	cfg.PerformanceFee = bps
	a.fees[id] = cfg
	a.log.Info().Str("strategy", id.Hex()).Uint16("performance_fee", bps).Msg("performance fee updated")
	return a.persist()
}

// ProposeFeeManager starts a two-step handover.
func (a *Accountant) ProposeFeeManager(caller, next model.StrategyID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.feeManager {
		return ErrNotFeeManager
	}
	a.futureFeeManager = next
	a.log.Info().Str("future_fee_manager", next.Hex()).Msg("fee manager proposed")
	return a.persist()
}

// AcceptFeeManager completes the handover; only the proposed account may call it.
func (a *Accountant) AcceptFeeManager(caller model.StrategyID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.futureFeeManager {
		return ErrNotFutureFeeManager
	}
	a.feeManager = caller
	a.log.Info().Str("fee_manager", caller.Hex()).Msg("fee manager accepted")
	return a.persist()
}

// FundReserve adds to the balance used for loss refunds.
func (a *Accountant) FundReserve(amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !amount.IsPositive() {
		return nil
	}
	a.reserve = a.reserve.Add(amount)
	return a.persist()
}

func (a *Accountant) Reserve() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserve
}

// Accrued returns collected fees not yet distributed.
func (a *Accountant) Accrued() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accrued
}

// Report computes fees on a gain or a refund on a loss.
func (a *Accountant) Report(_ context.Context, id model.StrategyID, account model.StrategyAccount, gain, loss decimal.Decimal) (model.FeeReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := model.FeeReport{
		Strategy: id,
		Gain:     gain,
		Loss:     loss,
		Fees:     decimal.Zero,
		Refunds:  decimal.Zero,
	}
	cfg := a.fees[id]

	if gain.IsPositive() {
		elapsed := a.now().Sub(account.LastReport).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		management := account.CurrentDebt.
			Mul(decimal.NewFromInt(int64(cfg.ManagementFee))).
			Mul(decimal.NewFromFloat(elapsed).Floor()).
			Div(decimal.NewFromInt(MaxBPS * secondsPerYear))
		performance := gain.
			Mul(decimal.NewFromInt(int64(cfg.PerformanceFee))).
			Div(decimal.NewFromInt(MaxBPS))

		total := management.Add(performance)
		maxFee := gain.Mul(decimal.NewFromInt(MaxGainShareBPS)).Div(decimal.NewFromInt(MaxBPS))
		rep.Fees = decimal.Min(total, maxFee).Floor()
		a.accrued = a.accrued.Add(rep.Fees)
	} else if loss.IsPositive() && a.refunds {
		rep.Refunds = decimal.Min(loss, a.reserve)
		a.reserve = a.reserve.Sub(rep.Refunds)
	}

	a.log.Debug().
		Str("strategy", id.Hex()).
		Str("fees", rep.Fees.String()).
		Str("refunds", rep.Refunds.String()).
		Msg("report processed")
	return rep, a.persist()
}

// Distribute clears the accrued counter once the fee manager has been paid
// and returns what it held. The vault moves the funds; see
// ledger.Vault.DistributeFees.
func (a *Accountant) Distribute(caller model.StrategyID) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.feeManager {
		return decimal.Zero, ErrNotFeeManager
	}
	paid := a.accrued
	a.accrued = decimal.Zero
	a.log.Info().Str("fee_manager", caller.Hex()).Str("amount", paid.String()).Msg("fees distributed")
	return paid, a.persist()
}

func (a *Accountant) persist() error {
	if err := a.save(); err != nil {
		return fmt.Errorf("persist fee state: %w", err)
	}
	return nil
}
