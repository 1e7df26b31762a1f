// Package allocator moves capital from the lowest-yielding managed strategy
// to the highest-yielding one, one donor and one receiver per pass.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/strategy"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Observer is notified after every evaluation and execution.
type Observer interface {
	ObserveEvaluation(p *model.AllocationProposal, elapsed time.Duration)
	ObserveExecution(res *model.ExecutionResult, err error)
}

// Engine evaluates and executes allocation passes over a Registry.
type Engine struct {
	// mu allows one Execute (or registry change) in flight at a time.
	mu sync.Mutex

	registry   *Registry
	ledger     ledger.Transactional
	authz      auth.Authorizer
	strictCaps bool
	observers  []Observer
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictCaps stops the engine from clamping the receiver request at its
// headroom, leaving the decision to the ledger's cap policy.
func WithStrictCaps(strict bool) Option { return func(e *Engine) { e.strictCaps = strict } }

// WithObserver adds o to the observers told about every pass.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observers = append(e.observers, o) } }

// WithClock replaces time.Now for execution timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "engine").Logger() }
}

// NewEngine builds an Engine over registry, moving funds through l and
// checking roles against authz.
func NewEngine(registry *Registry, l ledger.Transactional, authz auth.Authorizer, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		ledger:   l,
		authz:    authz,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a strategy; see Registry.Register.
func (e *Engine) Register(ctx context.Context, caller model.StrategyID, s strategy.Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Register(ctx, caller, s)
}

// Remove drops a strategy; see Registry.Remove.
func (e *Engine) Remove(ctx context.Context, caller, id model.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Remove(ctx, caller, id)
}

// Strategies lists registered handles in order.
func (e *Engine) Strategies() []model.StrategyID { return e.registry.List() }

// Reporter books a strategy's gains and losses.
type Reporter interface {
	ProcessReport(ctx context.Context, id model.StrategyID) (model.FeeReport, error)
}

// Report has every registered strategy report through r. caller needs the
// accounting manager role. One failing strategy does not stop the others;
// their errors are joined.
func (e *Engine) Report(ctx context.Context, caller model.StrategyID, r Reporter) ([]model.FeeReport, error) {
	if !e.authz.HasRole(caller, auth.RoleAccountingManager) {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller.Hex(), auth.RoleAccountingManager)
	}

	var (
		reports []model.FeeReport
		errs    []error
	)
	for _, id := range e.registry.List() {
		rep, err := r.ProcessReport(ctx, id)
		if err != nil {
			e.log.Error().Err(err).Str("strategy", id.Hex()).Msg("report failed")
			errs = append(errs, fmt.Errorf("report %s: %w", id.Hex(), err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

// Evaluate computes the proposal for the current state without changing it.
// Anyone may call it. With fewer than two strategies the proposal is empty.
func (e *Engine) Evaluate(ctx context.Context) (*model.AllocationProposal, error) {
	start := time.Now()
	p, err := e.evaluate(ctx, e.ledger, e.registry.Strategies())
	if err != nil {
		return nil, err
	}
	for _, o := range e.observers {
		o.ObserveEvaluation(p, time.Since(start))
	}
	return p, nil
}

// Execute recomputes the proposal and applies it inside one ledger
// transaction: the donor is fully withdrawn when the move is profitable and
// everything deployable goes to the receiver. Any ledger failure rolls the
// whole pass back.
func (e *Engine) Execute(ctx context.Context, caller model.StrategyID, trigger model.TriggerType) (*model.ExecutionResult, error) {
	if !e.authz.HasRole(caller, auth.RoleDebtManager) {
		err := fmt.Errorf("%w: %s needs %s", ErrUnauthorized, caller.Hex(), auth.RoleDebtManager)
		e.notify(nil, err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	strategies := e.registry.Strategies()
	var res *model.ExecutionResult
	err := e.ledger.Atomically(ctx, func(tx ledger.Ledger) error {
		res = &model.ExecutionResult{
			DonorAmountWithdrawn:    decimal.Zero,
			ReceiverAmountDeposited: decimal.Zero,
			Trigger:                 trigger,
		}
		p, err := e.evaluate(ctx, tx, strategies)
		if err != nil {
			return err
		}
		res.Proposal = *p
		return e.apply(ctx, tx, p, res)
	})
	if err != nil {
		e.log.Error().Err(err).Str("caller", caller.Hex()).Str("trigger", string(trigger)).Msg("execute failed")
		e.notify(nil, err)
		return nil, err
	}
	res.ExecutedAt = e.now()

	e.log.Info().
		Str("trigger", string(trigger)).
		Bool("profitable", res.Proposal.Profitable).
		Str("withdrawn", res.DonorAmountWithdrawn.String()).
		Str("deposited", res.ReceiverAmountDeposited.String()).
		Msg("execute completed")
	e.notify(res, nil)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, tx ledger.Ledger, p *model.AllocationProposal, res *model.ExecutionResult) error {
	if p.Empty() {
		return nil
	}

	deploy := p.Liquidity.DeployableIdle
	if p.Profitable {
		withdrawn, err := tx.SetTargetDebt(ctx, p.Donor, decimal.Zero)
		if err != nil {
			return fmt.Errorf("withdraw donor %s: %w", p.Donor.Hex(), err)
		}
		res.DonorAmountWithdrawn = withdrawn
		// Sized from the ledger's debt figure, not from what actually came back.
		deploy = deploy.Add(p.TransferableAmount)
	}
	if !deploy.IsPositive() {
		return nil
	}

	current, err := tx.CurrentDebt(ctx, p.Receiver)
	if err != nil {
		return err
	}
	request := deploy
	if !e.strictCaps {
		maxDebt, err := tx.MaxDebt(ctx, p.Receiver)
		if err != nil {
			return err
		}
		headroom := maxDebt.Sub(current)
		if !headroom.IsPositive() {
			e.log.Debug().Str("receiver", p.Receiver.Hex()).Msg("receiver at max debt")
			return nil
		}
		request = decimal.Min(deploy, headroom)
	}

	deposited, err := tx.SetTargetDebt(ctx, p.Receiver, current.Add(request))
	if err != nil {
		return fmt.Errorf("deposit receiver %s: %w", p.Receiver.Hex(), err)
	}
	res.ReceiverAmountDeposited = deposited
	return nil
}

func (e *Engine) evaluate(ctx context.Context, l ledger.Reader, strategies []strategy.Strategy) (*model.AllocationProposal, error) {
	idle, err := l.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	minIdle, err := l.MinimumIdle(ctx)
	if err != nil {
		return nil, err
	}
	p := &model.AllocationProposal{
		DonorCurrentAPR:             decimal.Zero,
		ReceiverCurrentAPR:          decimal.Zero,
		ReceiverAPRIfFullAbsorption: decimal.Zero,
		TransferableAmount:          decimal.Zero,
		Liquidity:                   model.NewLiquidityBudget(idle, minIdle),
		EvaluatedAt:                 e.now(),
	}
	if len(strategies) < 2 {
		return p, nil
	}

	aprs := make([]decimal.Decimal, len(strategies))
	for i, s := range strategies {
		apr, err := s.EstimatedAPRAfterDelta(ctx, decimal.Zero)
		if err != nil {
			return nil, fmt.Errorf("estimate apr of %s: %w", s.ID().Hex(), err)
		}
		aprs[i] = apr
	}

	// Strict comparisons keep the lowest index on ties.
	receiver := 0
	for i := 1; i < len(aprs); i++ {
		if aprs[i].GreaterThan(aprs[receiver]) {
			receiver = i
		}
	}
	donor := -1
	for i := range aprs {
		if i == receiver {
			continue
		}
		if donor < 0 || aprs[i].LessThan(aprs[donor]) {
			donor = i
		}
	}

	transferable, err := l.CurrentDebt(ctx, strategies[donor].ID())
	if err != nil {
		return nil, err
	}
	absorbed, err := strategies[receiver].EstimatedAPRAfterDelta(ctx, transferable)
	if err != nil {
		return nil, fmt.Errorf("estimate apr of %s: %w", strategies[receiver].ID().Hex(), err)
	}

	p.DonorIndex = &donor
	p.ReceiverIndex = &receiver
	p.Donor = strategies[donor].ID()
	p.Receiver = strategies[receiver].ID()
	p.DonorCurrentAPR = aprs[donor]
	p.ReceiverCurrentAPR = aprs[receiver]
	p.ReceiverAPRIfFullAbsorption = absorbed
	p.TransferableAmount = transferable
	p.Profitable = absorbed.GreaterThan(aprs[donor])
	return p, nil
}

func (e *Engine) notify(res *model.ExecutionResult, err error) {
	for _, o := range e.observers {
		o.ObserveExecution(res, err)
	}
}
