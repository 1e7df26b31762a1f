package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DebtAllocator/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Vault is an in-process custodian. Every mutation is serialised on txMu and
// persisted to a JSON state file when one is configured.
type Vault struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	state      *model.VaultState
	filePath   string
	capPolicy  CapPolicy
	accountant Accountant
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithCapPolicy sets what happens to deposits above a strategy's max debt.
func WithCapPolicy(p CapPolicy) Option { return func(v *Vault) { v.capPolicy = p } }

// WithAccountant sets the fee collaborator consulted on reports.
func WithAccountant(a Accountant) Option { return func(v *Vault) { v.accountant = a } }

// WithClock replaces time.Now for activation and report timestamps.
func WithClock(now func() time.Time) Option { return func(v *Vault) { v.now = now } }

// WithLogger tags vault logs with component=vault.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Vault) { v.log = log.With().Str("component", "vault").Logger() }
}

// NewVault creates a Vault, loading state from filePath if it exists. An
// empty filePath keeps the vault in memory only.
func NewVault(filePath string, opts ...Option) (*Vault, error) {
	state := newState()
	if filePath != "" {
		loaded, err := LoadState(filePath)
		if err != nil {
			return nil, fmt.Errorf("load vault state: %w", err)
		}
		state = loaded
	}

	v := &Vault{
		state:     state,
		filePath:  filePath,
		capPolicy: CapReject,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.save(); err != nil {
		return nil, err
	}
	return v, nil
}

// CapPolicy returns the policy applied to deposits above max debt.
func (v *Vault) CapPolicy() CapPolicy { return v.capPolicy }

func (v *Vault) CurrentDebt(_ context.Context, id model.StrategyID) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	acc, ok := v.state.Strategies[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
	}
	return acc.CurrentDebt, nil
}

func (v *Vault) MaxDebt(_ context.Context, id model.StrategyID) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	acc, ok := v.state.Strategies[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
	}
	return acc.MaxDebt, nil
}

func (v *Vault) IdleBalance(_ context.Context) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.IdleBalance, nil
}

func (v *Vault) MinimumIdle(_ context.Context) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.MinimumIdle, nil
}

// IsActive reports whether the strategy has been added to the vault.
func (v *Vault) IsActive(id model.StrategyID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.state.Strategies[id]
	return ok
}

// Snapshot returns a copy of the current state.
func (v *Vault) Snapshot() model.VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return *v.state.Clone()
}

// SetTargetDebt moves the strategy's debt toward target and returns the
// amount that moved.
func (v *Vault) SetTargetDebt(_ context.Context, id model.StrategyID, target decimal.Decimal) (decimal.Decimal, error) {
	var moved decimal.Decimal
	err := v.mutate(func(s *model.VaultState) error {
		var err error
		moved, err = v.setTargetDebt(s, id, target)
		return err
	})
	return moved, err
}

// Atomically runs fn with exclusive access to the vault. If fn returns an
// error every change it made is discarded.
func (v *Vault) Atomically(_ context.Context, fn func(tx Ledger) error) error {
	v.txMu.Lock()
	defer v.txMu.Unlock()

	v.mu.RLock()
	snapshot := v.state.Clone()
	v.mu.RUnlock()

	if err := fn(&txView{v: v}); err != nil {
		v.restore(snapshot)
		return err
	}

	v.mu.Lock()
	v.state.LastRebalanceAt = v.now()
	v.mu.Unlock()
	if err := v.save(); err != nil {
		v.restore(snapshot)
		return fmt.Errorf("persist vault state: %w", err)
	}
	return nil
}

// AddStrategy activates a strategy with the given debt cap.
func (v *Vault) AddStrategy(_ context.Context, id model.StrategyID, maxDebt decimal.Decimal) error {
	if maxDebt.IsNegative() {
		return fmt.Errorf("%w: negative max debt", ErrInvalidAmount)
	}
	return v.mutate(func(s *model.VaultState) error {
		if _, ok := s.Strategies[id]; ok {
			return fmt.Errorf("%w: %s", ErrStrategyExists, id.Hex())
		}
		now := v.now()
		s.Strategies[id] = &model.StrategyAccount{
			Activation:  now,
			LastReport:  now,
			CurrentDebt: decimal.Zero,
			MaxDebt:     maxDebt,
			TotalAssets: decimal.Zero,
		}
		s.StrategyOrder = append(s.StrategyOrder, id)
		v.log.Info().Str("strategy", id.Hex()).Str("max_debt", maxDebt.String()).Msg("strategy added")
		return nil
	})
}

// RevokeStrategy deactivates a strategy that no longer carries debt.
func (v *Vault) RevokeStrategy(_ context.Context, id model.StrategyID) error {
	return v.mutate(func(s *model.VaultState) error {
		acc, ok := s.Strategies[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
		}
		if !acc.CurrentDebt.IsZero() {
			return fmt.Errorf("%w: %s holds %s", ErrStrategyHasDebt, id.Hex(), acc.CurrentDebt)
		}
		delete(s.Strategies, id)
		v.log.Info().Str("strategy", id.Hex()).Msg("strategy revoked")
		for i, sid := range s.StrategyOrder {
			if sid == id {
				s.StrategyOrder = append(s.StrategyOrder[:i], s.StrategyOrder[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (v *Vault) UpdateMaxDebt(_ context.Context, id model.StrategyID, maxDebt decimal.Decimal) error {
	if maxDebt.IsNegative() {
		return fmt.Errorf("%w: negative max debt", ErrInvalidAmount)
	}
	return v.mutate(func(s *model.VaultState) error {
		acc, ok := s.Strategies[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
		}
		acc.MaxDebt = maxDebt
		return nil
	})
}

func (v *Vault) SetMinimumIdle(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative minimum idle", ErrInvalidAmount)
	}
	return v.mutate(func(s *model.VaultState) error {
		s.MinimumIdle = amount
		return nil
	})
}

// Deposit adds idle capital to the vault.
func (v *Vault) Deposit(_ context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	return v.mutate(func(s *model.VaultState) error {
		s.IdleBalance = s.IdleBalance.Add(amount)
		return nil
	})
}

// Withdraw removes idle capital. It never pulls from strategies.
func (v *Vault) Withdraw(_ context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	return v.mutate(func(s *model.VaultState) error {
		if amount.GreaterThan(s.IdleBalance) {
			return fmt.Errorf("%w: idle %s, requested %s", ErrInsufficientLiquidity, s.IdleBalance, amount)
		}
		s.IdleBalance = s.IdleBalance.Sub(amount)
		return nil
	})
}

// DistributeFees pays every fee the vault has accrued to the fee manager.
// The payout leaves idle and clears AccruedFees in the same mutation, so
// total assets drop by exactly what was paid.
func (v *Vault) DistributeFees(_ context.Context, caller model.StrategyID) (decimal.Decimal, error) {
	collector, ok := v.accountant.(FeeCollector)
	if !ok {
		return decimal.Zero, ErrNoFeeCollector
	}
	var paid decimal.Decimal
	err := v.mutate(func(s *model.VaultState) error {
		paid = s.AccruedFees
		if paid.GreaterThan(s.IdleBalance) {
			return fmt.Errorf("%w: idle %s, fees %s", ErrInsufficientLiquidity, s.IdleBalance, paid)
		}
		if _, err := collector.Distribute(caller); err != nil {
			return err
		}
		s.IdleBalance = s.IdleBalance.Sub(paid)
		s.AccruedFees = decimal.Zero
		v.log.Info().Str("fee_manager", caller.Hex()).Str("amount", paid.String()).Msg("fees distributed")
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}

// Accrue changes what a strategy holds without touching its recorded debt,
// the way yield or losses show up before the strategy reports.
func (v *Vault) Accrue(_ context.Context, id model.StrategyID, delta decimal.Decimal) error {
	return v.mutate(func(s *model.VaultState) error {
		acc, ok := s.Strategies[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
		}
		next := acc.TotalAssets.Add(delta)
		if next.IsNegative() {
			next = decimal.Zero
		}
		acc.TotalAssets = next
		return nil
	})
}

func (v *Vault) setTargetDebt(s *model.VaultState, id model.StrategyID, target decimal.Decimal) (decimal.Decimal, error) {
	acc, ok := s.Strategies[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
	}
	if target.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative target debt", ErrInvalidAmount)
	}

	current := acc.CurrentDebt
	switch target.Cmp(current) {
	case 0:
		return decimal.Zero, nil

	case -1:
		// A full exit realises everything the strategy holds, unreported
		// gains included.
		if target.IsZero() {
			withdrawn := acc.TotalAssets
			s.IdleBalance = s.IdleBalance.Add(withdrawn)
			acc.CurrentDebt = decimal.Zero
			acc.TotalAssets = decimal.Zero
			v.log.Debug().Str("strategy", id.Hex()).Str("withdrawn", withdrawn.String()).Msg("strategy emptied")
			return withdrawn, nil
		}
		toWithdraw := current.Sub(target)
		if toWithdraw.GreaterThan(acc.TotalAssets) {
			return decimal.Zero, fmt.Errorf("%w: %s holds %s, requested %s",
				ErrInsufficientLiquidity, id.Hex(), acc.TotalAssets, toWithdraw)
		}
		acc.TotalAssets = acc.TotalAssets.Sub(toWithdraw)
		acc.CurrentDebt = target
		s.IdleBalance = s.IdleBalance.Add(toWithdraw)
		v.log.Debug().Str("strategy", id.Hex()).Str("withdrawn", toWithdraw.String()).Msg("debt decreased")
		return toWithdraw, nil

	default:
		if target.GreaterThan(acc.MaxDebt) {
			if v.capPolicy != CapClamp {
				return decimal.Zero, fmt.Errorf("%w: %s target %s, max %s",
					ErrCapExceeded, id.Hex(), target, acc.MaxDebt)
			}
			target = acc.MaxDebt
			if !target.GreaterThan(current) {
				return decimal.Zero, nil
			}
		}
		// Deposits never take idle below the minimum buffer.
		available := s.IdleBalance.Sub(s.MinimumIdle)
		if !available.IsPositive() {
			return decimal.Zero, nil
		}
		toDeposit := decimal.Min(target.Sub(current), available)
		s.IdleBalance = s.IdleBalance.Sub(toDeposit)
		acc.CurrentDebt = acc.CurrentDebt.Add(toDeposit)
		acc.TotalAssets = acc.TotalAssets.Add(toDeposit)
		v.log.Debug().Str("strategy", id.Hex()).Str("deposited", toDeposit.String()).Msg("debt increased")
		return toDeposit, nil
	}
}

// mutate applies fn under both locks, rolling back if fn or the save fails.
func (v *Vault) mutate(fn func(s *model.VaultState) error) error {
	v.txMu.Lock()
	defer v.txMu.Unlock()

	v.mu.Lock()
	snapshot := v.state.Clone()
	err := fn(v.state)
	if err != nil {
		v.state = snapshot
	}
	v.mu.Unlock()
	if err != nil {
		return err
	}

	if err := v.save(); err != nil {
		v.restore(snapshot)
		return fmt.Errorf("persist vault state: %w", err)
	}
	return nil
}

func (v *Vault) restore(snapshot *model.VaultState) {
	v.mu.Lock()
	v.state = snapshot
	v.mu.Unlock()
}

func (v *Vault) save() error {
	if v.filePath == "" {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return SaveState(v.filePath, v.state)
}

// txView is the Ledger handed to Atomically callbacks. Its writes skip txMu,
// which the enclosing Atomically already holds.
type txView struct {
	v *Vault
}

func (t *txView) CurrentDebt(ctx context.Context, id model.StrategyID) (decimal.Decimal, error) {
	return t.v.CurrentDebt(ctx, id)
}

func (t *txView) MaxDebt(ctx context.Context, id model.StrategyID) (decimal.Decimal, error) {
	return t.v.MaxDebt(ctx, id)
}

func (t *txView) IdleBalance(ctx context.Context) (decimal.Decimal, error) {
	return t.v.IdleBalance(ctx)
}

func (t *txView) MinimumIdle(ctx context.Context) (decimal.Decimal, error) {
	return t.v.MinimumIdle(ctx)
}

func (t *txView) SetTargetDebt(_ context.Context, id model.StrategyID, target decimal.Decimal) (decimal.Decimal, error) {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	return t.v.setTargetDebt(t.v.state, id, target)
}
