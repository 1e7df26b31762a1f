package fees

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"DebtAllocator/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	feeManager = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	user       = common.HexToAddress("0x0000000000000000000000000000000000000009")
	strategy   = common.HexToAddress("0x0000000000000000000000000000000000000001")

	amount = decimal.NewFromInt(1_000_000).Mul(decimal.New(1, 6))
	year   = 365 * 24 * time.Hour
	t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func account() model.StrategyAccount {
	return model.StrategyAccount{
		Activation:  t0,
		LastReport:  t0,
		CurrentDebt: amount,
		MaxDebt:     amount,
		TotalAssets: amount,
	}
}

func newAccountant(elapsed time.Duration, opts ...Option) *Accountant {
	opts = append(opts, WithClock(func() time.Time { return t0.Add(elapsed) }))
	return New(feeManager, opts...)
}

func pow10(n int32) decimal.Decimal { return decimal.New(1, n) }

func TestAccountant_Thresholds(t *testing.T) {
	a := newAccountant(0)
	assert.Equal(t, uint16(1_000), a.ManagementFeeThreshold())
	assert.Equal(t, uint16(1_000), a.PerformanceFeeThreshold())
}

func TestAccountant_SetFees_InvalidUser(t *testing.T) {
	a := newAccountant(0)
	assert.ErrorIs(t, a.SetPerformanceFee(user, strategy, 500), ErrNotFeeManager)
	assert.ErrorIs(t, a.SetManagementFee(user, strategy, 500), ErrNotFeeManager)
}

func TestAccountant_SetFees(t *testing.T) {
	for _, fee := range []uint16{0, 250, 500} {
		a := newAccountant(0)
		require.NoError(t, a.SetPerformanceFee(feeManager, strategy, fee))
		require.NoError(t, a.SetManagementFee(feeManager, strategy, fee))
		assert.Equal(t, model.FeeConfig{ManagementFee: fee, PerformanceFee: fee}, a.Fees(strategy))
	}
	for _, fee := range []uint16{1_001, 5_000, 10_000} {
		a := newAccountant(0)
		assert.ErrorIs(t, a.SetPerformanceFee(feeManager, strategy, fee), ErrFeeThreshold)
		assert.ErrorIs(t, a.SetManagementFee(feeManager, strategy, fee), ErrFeeThreshold)
	}
}

func TestAccountant_FeeManagerHandover(t *testing.T) {
	a := newAccountant(0)
	assert.ErrorIs(t, a.ProposeFeeManager(user, user), ErrNotFeeManager)

	require.NoError(t, a.ProposeFeeManager(feeManager, user))
	assert.Equal(t, user, a.FutureFeeManager())

	assert.ErrorIs(t, a.AcceptFeeManager(feeManager), ErrNotFutureFeeManager)
	require.NoError(t, a.AcceptFeeManager(user))
	assert.Equal(t, user, a.FeeManager())
	assert.Equal(t, user, a.FutureFeeManager())
}

func TestAccountant_Report_NoGainNoLoss(t *testing.T) {
	a := newAccountant(year)
	require.NoError(t, a.SetManagementFee(feeManager, strategy, 100))

	rep, err := a.Report(context.Background(), strategy, account(), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, rep.Fees.IsZero())
	assert.True(t, rep.Refunds.IsZero())
}

func TestAccountant_Report_NoFeesConfigured(t *testing.T) {
	a := newAccountant(year)
	rep, err := a.Report(context.Background(), strategy, account(), decimal.NewFromInt(100), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, rep.Fees.IsZero())
}

func TestAccountant_Report_ManagementFee(t *testing.T) {
	for _, gain := range []int32{12, 14, 18} {
		for _, fee := range []uint16{100, 1_000} {
			t.Run(fmt.Sprintf("gain=1e%d/fee=%d", gain, fee), func(t *testing.T) {
				a := newAccountant(year)
				require.NoError(t, a.SetManagementFee(feeManager, strategy, fee))

				rep, err := a.Report(context.Background(), strategy, account(), pow10(gain), decimal.Zero)
				require.NoError(t, err)

				want := amount.Mul(decimal.NewFromInt(int64(fee))).Div(decimal.NewFromInt(MaxBPS))
				assert.True(t, rep.Fees.Equal(want), "got %s want %s", rep.Fees, want)
				assert.True(t, rep.Refunds.IsZero())
			})
		}
	}
}

func TestAccountant_Report_PerformanceFee(t *testing.T) {
	for _, gain := range []int32{12, 14, 18} {
		for _, fee := range []uint16{100, 1_000} {
			a := newAccountant(0)
			require.NoError(t, a.SetPerformanceFee(feeManager, strategy, fee))

			rep, err := a.Report(context.Background(), strategy, account(), pow10(gain), decimal.Zero)
			require.NoError(t, err)

			want := pow10(gain).Mul(decimal.NewFromInt(int64(fee))).Div(decimal.NewFromInt(MaxBPS))
			assert.True(t, rep.Fees.Equal(want), "got %s want %s", rep.Fees, want)
		}
	}
}

func TestAccountant_Report_AllFees(t *testing.T) {
	a := newAccountant(year)
	require.NoError(t, a.SetPerformanceFee(feeManager, strategy, 1_000))
	require.NoError(t, a.SetManagementFee(feeManager, strategy, 100))

	gain := pow10(14)
	rep, err := a.Report(context.Background(), strategy, account(), gain, decimal.Zero)
	require.NoError(t, err)

	want := gain.Mul(decimal.NewFromInt(1_000)).Div(decimal.NewFromInt(MaxBPS)).
		Add(amount.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(MaxBPS)))
	assert.True(t, rep.Fees.Equal(want), "got %s want %s", rep.Fees, want)
	assert.True(t, a.Accrued().Equal(want))
}

func TestAccountant_Report_CappedAt75PercentOfGain(t *testing.T) {
	for _, gain := range []int32{2, 5, 8} {
		a := newAccountant(year)
		require.NoError(t, a.SetPerformanceFee(feeManager, strategy, 500))
		require.NoError(t, a.SetManagementFee(feeManager, strategy, 500))

		rep, err := a.Report(context.Background(), strategy, account(), pow10(gain), decimal.Zero)
		require.NoError(t, err)

		want := pow10(gain).Mul(decimal.NewFromInt(MaxGainShareBPS)).Div(decimal.NewFromInt(MaxBPS))
		assert.True(t, rep.Fees.Equal(want), "got %s want %s", rep.Fees, want)
	}
}

func TestAccountant_Report_LossChargesNothing(t *testing.T) {
	for _, loss := range []int32{1, 10, 20} {
		a := newAccountant(year)
		require.NoError(t, a.SetPerformanceFee(feeManager, strategy, 500))
		require.NoError(t, a.SetManagementFee(feeManager, strategy, 500))

		rep, err := a.Report(context.Background(), strategy, account(), decimal.Zero, pow10(loss))
		require.NoError(t, err)
		assert.True(t, rep.Fees.IsZero())
		assert.True(t, rep.Refunds.IsZero())
	}
}

func TestAccountant_Refunds(t *testing.T) {
	tests := []struct {
		name    string
		reserve func(loss decimal.Decimal) decimal.Decimal
		want    func(loss decimal.Decimal) decimal.Decimal
	}{
		{
			name:    "enough reserve",
			reserve: func(decimal.Decimal) decimal.Decimal { return amount },
			want:    func(loss decimal.Decimal) decimal.Decimal { return loss },
		},
		{
			name:    "partial reserve",
			reserve: func(loss decimal.Decimal) decimal.Decimal { return loss.Div(decimal.NewFromInt(10)).Floor() },
			want:    func(loss decimal.Decimal) decimal.Decimal { return loss.Div(decimal.NewFromInt(10)).Floor() },
		},
		{
			name:    "no reserve",
			reserve: func(decimal.Decimal) decimal.Decimal { return decimal.Zero },
			want:    func(decimal.Decimal) decimal.Decimal { return decimal.Zero },
		},
	}
	for _, tt := range tests {
		for _, exp := range []int32{1, 10, 12} {
			t.Run(fmt.Sprintf("%s/1e%d", tt.name, exp), func(t *testing.T) {
				loss := pow10(exp)
				a := newAccountant(0, WithRefunds())
				require.NoError(t, a.FundReserve(tt.reserve(loss)))

				rep, err := a.Report(context.Background(), strategy, account(), decimal.Zero, loss)
				require.NoError(t, err)
				assert.True(t, rep.Fees.IsZero())
				assert.True(t, rep.Refunds.Equal(tt.want(loss)), "got %s", rep.Refunds)
			})
		}
	}
}

func TestAccountant_Distribute(t *testing.T) {
	a := newAccountant(0)
	require.NoError(t, a.SetPerformanceFee(feeManager, strategy, 1_000))
	_, err := a.Report(context.Background(), strategy, account(), decimal.NewFromInt(1_000), decimal.Zero)
	require.NoError(t, err)

	_, err = a.Distribute(user)
	assert.ErrorIs(t, err, ErrNotFeeManager)

	paid, err := a.Distribute(feeManager)
	require.NoError(t, err)
	assert.True(t, paid.Equal(decimal.NewFromInt(100)))
	assert.True(t, a.Accrued().IsZero())
}

func TestOpen_PersistsHandoverAndReserve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.json")

	a, err := Open(path, feeManager)
	require.NoError(t, err)
	assert.False(t, a.Restored())
	require.NoError(t, a.SetPerformanceFee(feeManager, strategy, 500))
	require.NoError(t, a.FundReserve(decimal.NewFromInt(42)))
	require.NoError(t, a.ProposeFeeManager(feeManager, user))
	require.NoError(t, a.AcceptFeeManager(user))

	// The configured manager no longer applies once a handover is on disk.
	b, err := Open(path, feeManager)
	require.NoError(t, err)
	assert.True(t, b.Restored())
	assert.Equal(t, user, b.FeeManager())
	assert.Equal(t, model.FeeConfig{PerformanceFee: 500}, b.Fees(strategy))
	assert.True(t, b.Reserve().Equal(decimal.NewFromInt(42)))
	assert.ErrorIs(t, b.SetPerformanceFee(feeManager, strategy, 100), ErrNotFeeManager)
}
