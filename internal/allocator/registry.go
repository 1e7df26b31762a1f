package allocator

import (
	"context"
	"fmt"
	"sync"

	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/strategy"

	"github.com/rs/zerolog"
)

// Registry is the ordered set of strategies the allocator manages. Order is
// registration order and decides ties during evaluation.
type Registry struct {
	mu         sync.RWMutex
	strategies []strategy.Strategy

	authz  auth.Authorizer
	ledger ledger.Reader
	store  RegistryStore
	log    zerolog.Logger
}

func NewRegistry(authz auth.Authorizer, l ledger.Reader, store RegistryStore, log zerolog.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		authz:  authz,
		ledger: l,
		store:  store,
		log:    log.With().Str("component", "registry").Logger(),
	}
}

// Restore reloads persisted registrations, resolving each id to its oracle.
func (r *Registry) Restore(ctx context.Context, resolve func(model.StrategyID) (strategy.Strategy, error)) error {
	ids, _, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	restored := make([]strategy.Strategy, 0, len(ids))
	for _, id := range ids {
		s, err := resolve(id)
		if err != nil {
			return fmt.Errorf("restore %s: %w", id.Hex(), err)
		}
		restored = append(restored, s)
	}

	r.mu.Lock()
	r.strategies = restored
	r.mu.Unlock()
	r.log.Info().Int("count", len(restored)).Msg("registry restored")
	return nil
}

// Register appends s. The caller needs the strategy manager role and the
// ledger must already know the strategy.
func (r *Registry) Register(ctx context.Context, caller model.StrategyID, s strategy.Strategy) error {
	if !r.authz.HasRole(caller, auth.RoleStrategyManager) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller.Hex(), auth.RoleStrategyManager)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if r.indexOf(id) >= 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id.Hex())
	}
	if _, err := r.ledger.MaxDebt(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}

	next := append(r.ids(), id)
	if err := r.store.Save(ctx, next); err != nil {
		return err
	}
	r.strategies = append(r.strategies, s)
	r.log.Info().Str("strategy", id.Hex()).Str("caller", caller.Hex()).Int("index", len(r.strategies)-1).Msg("strategy registered")
	return nil
}

// Remove drops a strategy that no longer holds debt.
func (r *Registry) Remove(ctx context.Context, caller, id model.StrategyID) error {
	if !r.authz.HasRole(caller, auth.RoleStrategyManager) {
		return fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller.Hex(), auth.RoleStrategyManager)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id.Hex())
	}
	debt, err := r.ledger.CurrentDebt(ctx, id)
	if err != nil {
		return err
	}
	if debt.IsPositive() {
		return fmt.Errorf("%w: %s holds %s", ErrStrategyHasDebt, id.Hex(), debt)
	}

	next := make([]strategy.Strategy, 0, len(r.strategies)-1)
	next = append(next, r.strategies[:idx]...)
	next = append(next, r.strategies[idx+1:]...)
	ids := make([]model.StrategyID, len(next))
	for i, s := range next {
		ids[i] = s.ID()
	}
	if err := r.store.Save(ctx, ids); err != nil {
		return err
	}
	r.strategies = next
	r.log.Info().Str("strategy", id.Hex()).Str("caller", caller.Hex()).Msg("strategy removed")
	return nil
}

// List returns the registered handles in registration order.
func (r *Registry) List() []model.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids()
}

// Strategies returns a copy of the registered oracles.
func (r *Registry) Strategies() []strategy.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]strategy.Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

func (r *Registry) indexOf(id model.StrategyID) int {
	for i, s := range r.strategies {
		if s.ID() == id {
			return i
		}
	}
	return -1
}

func (r *Registry) ids() []model.StrategyID {
	out := make([]model.StrategyID, len(r.strategies))
	for i, s := range r.strategies {
		out[i] = s.ID()
	}
	return out
}
