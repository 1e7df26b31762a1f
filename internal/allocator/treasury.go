package allocator

import (
	"context"
	"fmt"
	"slices"

	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TreasuryVault is the custodian side of the operations Treasury gates.
type TreasuryVault interface {
	Deposit(ctx context.Context, amount decimal.Decimal) error
	Withdraw(ctx context.Context, amount decimal.Decimal) error
	RevokeStrategy(ctx context.Context, id model.StrategyID) error
	DistributeFees(ctx context.Context, caller model.StrategyID) (decimal.Decimal, error)
}

// Treasury runs the vault operations that sit outside allocation passes,
// each behind the role that owns it.
type Treasury struct {
	engine *Engine
	vault  TreasuryVault
	authz  auth.Authorizer
	log    zerolog.Logger
}

func NewTreasury(engine *Engine, vault TreasuryVault, authz auth.Authorizer, log zerolog.Logger) *Treasury {
	return &Treasury{
		engine: engine,
		vault:  vault,
		authz:  authz,
		log:    log.With().Str("component", "treasury").Logger(),
	}
}

// Deposit adds idle capital. Needs the debt manager role.
func (t *Treasury) Deposit(ctx context.Context, caller model.StrategyID, amount decimal.Decimal) error {
	if err := t.require(caller, auth.RoleDebtManager); err != nil {
		return err
	}
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if err := t.vault.Deposit(ctx, amount); err != nil {
		return err
	}
	t.log.Info().Str("caller", caller.Hex()).Str("amount", amount.String()).Msg("deposit")
	return nil
}

// Withdraw takes idle capital out of the vault. Needs the debt manager role.
func (t *Treasury) Withdraw(ctx context.Context, caller model.StrategyID, amount decimal.Decimal) error {
	if err := t.require(caller, auth.RoleDebtManager); err != nil {
		return err
	}
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if err := t.vault.Withdraw(ctx, amount); err != nil {
		return err
	}
	t.log.Info().Str("caller", caller.Hex()).Str("amount", amount.String()).Msg("withdraw")
	return nil
}

// RevokeStrategy deactivates a strategy in the vault. It must be out of the
// registry and carry no debt. Needs the emergency manager role.
func (t *Treasury) RevokeStrategy(ctx context.Context, caller, id model.StrategyID) error {
	if err := t.require(caller, auth.RoleEmergencyManager); err != nil {
		return err
	}
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	if slices.Contains(t.engine.registry.List(), id) {
		return fmt.Errorf("%w: %s", ErrStillRegistered, id.Hex())
	}
	if err := t.vault.RevokeStrategy(ctx, id); err != nil {
		return err
	}
	t.log.Warn().Str("caller", caller.Hex()).Str("strategy", id.Hex()).Msg("strategy revoked")
	return nil
}

// DistributeFees pays accrued fees out of idle. Only the fee manager may
// call it; the accountant enforces that.
func (t *Treasury) DistributeFees(ctx context.Context, caller model.StrategyID) (decimal.Decimal, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.vault.DistributeFees(ctx, caller)
}

func (t *Treasury) require(caller model.StrategyID, role auth.Role) error {
	if !t.authz.HasRole(caller, role) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}
