package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// A is the debt each strategy starts with: one million units of a
	// six-decimal asset.
	A    = decimal.NewFromInt(1_000_000).Mul(decimal.New(1, 6))
	base = decimal.New(1, 18)

	s1ID = common.HexToAddress("0x0000000000000000000000000000000000000001")
	s2ID = common.HexToAddress("0x0000000000000000000000000000000000000002")
	s3ID = common.HexToAddress("0x0000000000000000000000000000000000000003")

	gov      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	outsider = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func frac(n, d int64) decimal.Decimal {
	return A.Mul(decimal.NewFromInt(n)).Div(decimal.NewFromInt(d))
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	vault  *ledger.Vault
	acl    *auth.ACL
	engine *Engine
}

type fixtureOpts struct {
	vault  []ledger.Option
	engine []Option
}

// newFixture activates one linear strategy per slope, each holding debt A,
// with no idle left in the vault.
func newFixture(t *testing.T, opts fixtureOpts, slopes ...int64) *fixture {
	t.Helper()
	ctx := context.Background()

	vault, err := ledger.NewVault("", opts.vault...)
	require.NoError(t, err)
	acl := auth.NewACL()
	acl.Grant(gov, auth.RoleStrategyManager|auth.RoleDebtManager)

	ids := []model.StrategyID{s1ID, s2ID, s3ID}
	require.LessOrEqual(t, len(slopes), len(ids))

	registry := NewRegistry(acl, vault, NewMemoryStore(), zerolog.Nop())
	engine := NewEngine(registry, vault, acl, opts.engine...)

	for i, slope := range slopes {
		require.NoError(t, vault.AddStrategy(ctx, ids[i], A.Mul(decimal.NewFromInt(10))))
		require.NoError(t, vault.Deposit(ctx, A))
		_, err := vault.SetTargetDebt(ctx, ids[i], A)
		require.NoError(t, err)
		require.NoError(t, engine.Register(ctx, gov, strategy.NewLinear(ids[i], base, decimal.NewFromInt(slope), vault)))
	}
	return &fixture{t: t, ctx: ctx, vault: vault, acl: acl, engine: engine}
}

func (f *fixture) debt(id model.StrategyID) decimal.Decimal {
	f.t.Helper()
	d, err := f.vault.CurrentDebt(f.ctx, id)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) idle() decimal.Decimal {
	f.t.Helper()
	d, err := f.vault.IdleBalance(f.ctx)
	require.NoError(f.t, err)
	return d
}

func assertDec(t *testing.T, want, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, want.Equal(got), append([]interface{}{"want %s got %s", want, got}, msgAndArgs...)...)
}

func TestEvaluate_SteeperSlopeDonates(t *testing.T) {
	tests := []struct {
		name            string
		slope1, slope2  int64
		donor, receiver model.StrategyID
	}{
		{"steeper second", 100, 300, s2ID, s1ID},
		{"steeper first", 300, 100, s1ID, s2ID},
		{"close slopes", 150, 160, s2ID, s1ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{}, tt.slope1, tt.slope2)
			p, err := f.engine.Evaluate(f.ctx)
			require.NoError(t, err)
			require.False(t, p.Empty())
			assert.Equal(t, tt.donor, p.Donor)
			assert.Equal(t, tt.receiver, p.Receiver)
			assertDec(t, A, p.TransferableAmount)
		})
	}
}

func TestEvaluate_ProfitableScenario(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	p, err := f.engine.Evaluate(f.ctx)
	require.NoError(t, err)

	donor, receiver, err := p.Pair()
	require.NoError(t, err)
	assert.Equal(t, 1, donor)
	assert.Equal(t, 0, receiver)
	assert.True(t, p.Profitable)
	assertDec(t, base.Sub(decimal.NewFromInt(300).Mul(A)), p.DonorCurrentAPR)
	assertDec(t, base.Sub(decimal.NewFromInt(200).Mul(A)), p.ReceiverAPRIfFullAbsorption)
	assert.True(t, p.Liquidity.DeployableIdle.IsZero())

	// Evaluate is read-only.
	assertDec(t, A, f.debt(s1ID))
	assertDec(t, A, f.debt(s2ID))
}

func TestEvaluate_BreakEvenIsNotProfitable(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 200)
	p, err := f.engine.Evaluate(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, s2ID, p.Donor)
	assertDec(t, p.DonorCurrentAPR, p.ReceiverAPRIfFullAbsorption)
	assert.False(t, p.Profitable)
}

func TestEvaluate_TiesPickLowestIndex(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 300, 100, 300)
	p, err := f.engine.Evaluate(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, *p.ReceiverIndex)
	assert.Equal(t, 0, *p.DonorIndex)

	g := newFixture(t, fixtureOpts{}, 200, 200)
	p, err = g.engine.Evaluate(g.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, *p.ReceiverIndex)
	assert.Equal(t, 1, *p.DonorIndex)
	assert.False(t, p.Profitable)
}

func TestEvaluate_FewerThanTwoStrategies(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100)
	require.NoError(t, f.vault.Deposit(f.ctx, A))

	p, err := f.engine.Evaluate(f.ctx)
	require.NoError(t, err)
	assert.True(t, p.Empty())
	_, _, err = p.Pair()
	assert.ErrorIs(t, err, ErrEmptyRegistry)
	assertDec(t, A, p.Liquidity.DeployableIdle)

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assert.False(t, res.Moved())
	assertDec(t, A, f.idle())
}

func TestExecute_ProfitableMovesDonorToReceiver(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assertDec(t, A, res.DonorAmountWithdrawn)
	assertDec(t, A, res.ReceiverAmountDeposited)
	assert.Equal(t, model.TriggerManual, res.Trigger)

	assertDec(t, A.Mul(decimal.NewFromInt(2)), f.debt(s1ID))
	assert.True(t, f.debt(s2ID).IsZero())
	assert.True(t, f.idle().IsZero())
}

func TestExecute_BreakEvenIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 200)
	for i := 0; i < 3; i++ {
		res, err := f.engine.Execute(f.ctx, gov, model.TriggerScheduled)
		require.NoError(t, err)
		assert.False(t, res.Moved())
		assertDec(t, A, f.debt(s1ID))
		assertDec(t, A, f.debt(s2ID))
	}
}

func TestExecute_DeploysIdleWithoutCrossMove(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 200)
	require.NoError(t, f.vault.Deposit(f.ctx, A))

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assert.True(t, res.DonorAmountWithdrawn.IsZero())
	assertDec(t, A, res.ReceiverAmountDeposited)

	assertDec(t, A.Mul(decimal.NewFromInt(2)), f.debt(s1ID))
	assertDec(t, A, f.debt(s2ID))
	assert.True(t, f.idle().IsZero())
}

func TestExecute_PreservesMinimumIdle(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	require.NoError(t, f.vault.SetMinimumIdle(f.ctx, frac(1, 10)))

	_, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)

	assertDec(t, A.Mul(decimal.NewFromInt(2)).Sub(frac(1, 10)), f.debt(s1ID))
	assert.True(t, f.debt(s2ID).IsZero())
	assertDec(t, frac(1, 10), f.idle())
}

func TestExecute_IdleAlreadyBelowMinimum(t *testing.T) {
	tests := []struct {
		name         string
		slope2       int64
		profitable   bool
		s1, s2, idle decimal.Decimal
		deposited    decimal.Decimal
	}{
		// nothing deployable and no cross move
		{"not profitable", 100, false, A, A, frac(1, 2), decimal.Zero},
		// the withdrawn donor first refills the buffer, only the rest moves on
		{"profitable", 300, true, frac(3, 2), decimal.Zero, A, frac(1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{}, 100, tt.slope2)
			require.NoError(t, f.vault.Deposit(f.ctx, frac(1, 2)))
			require.NoError(t, f.vault.SetMinimumIdle(f.ctx, A))
			before := f.idle()

			res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, tt.profitable, res.Proposal.Profitable)
			assert.True(t, res.Proposal.Liquidity.DeployableIdle.IsZero())
			assertDec(t, tt.deposited, res.ReceiverAmountDeposited)

			assertDec(t, tt.s1, f.debt(s1ID))
			assertDec(t, tt.s2, f.debt(s2ID))
			assertDec(t, tt.idle, f.idle())
			assert.False(t, f.idle().LessThan(before), "idle dropped from %s to %s", before, f.idle())
		})
	}
}

func TestExecute_ProfitableWithIdle(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	require.NoError(t, f.vault.Deposit(f.ctx, frac(1, 2)))

	_, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)

	// old receiver + old donor + deployable idle
	assertDec(t, frac(5, 2), f.debt(s1ID))
	assert.True(t, f.debt(s2ID).IsZero())
}

func TestExecute_DonorGainsAreRealised(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	require.NoError(t, f.vault.Accrue(f.ctx, s2ID, frac(1, 100)))

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assertDec(t, frac(101, 100), res.DonorAmountWithdrawn)
	assertDec(t, A, res.ReceiverAmountDeposited)
	assertDec(t, frac(1, 100), f.idle())

	// The leftover is idle now. The emptied donor yields the most on the
	// next pass, so it receives it.
	res, err = f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assert.False(t, res.Proposal.Profitable)
	assertDec(t, frac(1, 100), res.ReceiverAmountDeposited)
	assertDec(t, A.Mul(decimal.NewFromInt(2)), f.debt(s1ID))
	assertDec(t, frac(1, 100), f.debt(s2ID))
}

func TestExecute_ClampsAtReceiverHeadroom(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	require.NoError(t, f.vault.UpdateMaxDebt(f.ctx, s1ID, frac(3, 2)))

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assertDec(t, frac(1, 2), res.ReceiverAmountDeposited)
	assertDec(t, frac(3, 2), f.debt(s1ID))
	assert.True(t, f.debt(s2ID).IsZero())
	assertDec(t, frac(1, 2), f.idle())
}

func TestExecute_ReceiverAlreadyAtCap(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 200)
	require.NoError(t, f.vault.UpdateMaxDebt(f.ctx, s1ID, A))
	require.NoError(t, f.vault.Deposit(f.ctx, A))

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assert.False(t, res.Moved())
	assertDec(t, A, f.idle())
}

func TestExecute_StrictCapsLedgerRejects(t *testing.T) {
	f := newFixture(t, fixtureOpts{engine: []Option{WithStrictCaps(true)}}, 100, 300)
	require.NoError(t, f.vault.UpdateMaxDebt(f.ctx, s1ID, frac(3, 2)))

	_, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	assert.ErrorIs(t, err, ledger.ErrCapExceeded)

	// The donor withdrawal was rolled back with the failed deposit.
	assertDec(t, A, f.debt(s1ID))
	assertDec(t, A, f.debt(s2ID))
	assert.True(t, f.idle().IsZero())
}

func TestExecute_StrictCapsLedgerClamps(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		vault:  []ledger.Option{ledger.WithCapPolicy(ledger.CapClamp)},
		engine: []Option{WithStrictCaps(true)},
	}, 100, 300)
	require.NoError(t, f.vault.UpdateMaxDebt(f.ctx, s1ID, frac(3, 2)))

	res, err := f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	assertDec(t, frac(1, 2), res.ReceiverAmountDeposited)
	assertDec(t, frac(3, 2), f.debt(s1ID))
}

func TestExecute_Unauthorized(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	f.acl.Grant(outsider, auth.RoleStrategyManager)

	_, err := f.engine.Execute(f.ctx, outsider, model.TriggerAPI)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assertDec(t, A, f.debt(s1ID))
	assertDec(t, A, f.debt(s2ID))
}

func TestExecute_ConcurrentCallsAreSerialised(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	require.NoError(t, f.vault.Deposit(f.ctx, A))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(f.ctx, gov, model.TriggerAPI)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertDec(t, A.Mul(decimal.NewFromInt(3)), f.debt(s1ID))
	assert.True(t, f.debt(s2ID).IsZero())
	assert.True(t, f.idle().IsZero())
}

type recordingObserver struct {
	mu          sync.Mutex
	evaluations int
	executions  int
	failures    int
}

func (o *recordingObserver) ObserveEvaluation(*model.AllocationProposal, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluations++
}

func (o *recordingObserver) ObserveExecution(_ *model.ExecutionResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failures++
		return
	}
	o.executions++
}

func TestEngine_NotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, fixtureOpts{engine: []Option{WithObserver(obs)}}, 100, 300)

	_, err := f.engine.Evaluate(f.ctx)
	require.NoError(t, err)
	_, err = f.engine.Execute(f.ctx, gov, model.TriggerManual)
	require.NoError(t, err)
	_, err = f.engine.Execute(f.ctx, outsider, model.TriggerManual)
	require.Error(t, err)

	assert.Equal(t, 1, obs.evaluations)
	assert.Equal(t, 1, obs.executions)
	assert.Equal(t, 1, obs.failures)
}

type reporterFunc func(ctx context.Context, id model.StrategyID) (model.FeeReport, error)

func (f reporterFunc) ProcessReport(ctx context.Context, id model.StrategyID) (model.FeeReport, error) {
	return f(ctx, id)
}

func TestEngine_Report(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300)
	accountant := common.HexToAddress("0x00000000000000000000000000000000000000ac")
	f.acl.Grant(accountant, auth.RoleAccountingManager)
	require.NoError(t, f.vault.Accrue(f.ctx, s1ID, frac(1, 10)))

	_, err := f.engine.Report(f.ctx, gov, f.vault)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assertDec(t, A, f.debt(s1ID))

	reports, err := f.engine.Report(f.ctx, accountant, f.vault)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assertDec(t, frac(1, 10), reports[0].Gain)
	assertDec(t, frac(11, 10), f.debt(s1ID))
}

func TestEngine_ReportKeepsGoingAfterFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{}, 100, 300, 200)
	f.acl.Grant(gov, auth.RoleAccountingManager)
	boom := errors.New("boom")

	var seen []model.StrategyID
	reports, err := f.engine.Report(f.ctx, gov, reporterFunc(func(_ context.Context, id model.StrategyID) (model.FeeReport, error) {
		seen = append(seen, id)
		if id == s2ID {
			return model.FeeReport{}, boom
		}
		return model.FeeReport{Strategy: id}, nil
	}))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), s2ID.Hex())
	assert.Equal(t, []model.StrategyID{s1ID, s2ID, s3ID}, seen)
	require.Len(t, reports, 2)
	assert.Equal(t, s3ID, reports[1].Strategy)
}
