package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"DebtAllocator/internal/config"
	"DebtAllocator/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idA = common.HexToAddress("0x0000000000000000000000000000000000000001")
	idB = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type debtMap map[model.StrategyID]decimal.Decimal

func (m debtMap) CurrentDebt(_ context.Context, id model.StrategyID) (decimal.Decimal, error) {
	d, ok := m[id]
	if !ok {
		return decimal.Zero, errors.New("unknown")
	}
	return d, nil
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLinear_APR(t *testing.T) {
	ctx := context.Background()
	base := decimal.New(1, 18)
	s := NewLinear(idA, base, d(100), debtMap{idA: d(1_000)})

	apr, err := s.EstimatedAPRAfterDelta(ctx, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, apr.Equal(base.Sub(d(100_000))))

	more, err := s.EstimatedAPRAfterDelta(ctx, d(1_000))
	require.NoError(t, err)
	assert.True(t, more.LessThan(apr), "deposit should dilute the apr")

	less, err := s.EstimatedAPRAfterDelta(ctx, d(-5_000))
	require.NoError(t, err)
	assert.True(t, less.Equal(base), "exposure is floored at zero")
}

func TestLinear_NeverNegative(t *testing.T) {
	s := NewLinear(idA, d(10), d(1), debtMap{idA: d(100)})
	apr, err := s.EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, apr.IsZero())
}

func TestLinear_DebtReadError(t *testing.T) {
	s := NewLinear(idB, d(10), d(1), debtMap{})
	_, err := s.EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
	assert.Error(t, err)
}

func lendingParams() LendingParams {
	return LendingParams{
		Borrowed:         d(800),
		BaseRate:         decimal.New(2, 16),
		Slope1:           decimal.New(4, 16),
		Slope2:           decimal.New(6, 17),
		KinkBPS:          8_000,
		ReserveFactorBPS: 1_000,
	}
}

func TestLendingMarket_AtKink(t *testing.T) {
	m := NewLendingMarket(idA, lendingParams(), debtMap{idA: d(1_000)})
	apr, err := m.EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
	require.NoError(t, err)
	// borrow 6% at 80% utilization, 10% reserve factor
	assert.True(t, apr.Equal(decimal.New(432, 14)), "got %s", apr)
}

func TestLendingMarket_AboveKink(t *testing.T) {
	m := NewLendingMarket(idA, lendingParams(), debtMap{idA: d(800)})
	apr, err := m.EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, apr.Equal(decimal.New(594, 15)), "got %s", apr)
}

func TestLendingMarket_DepositLowersAPR(t *testing.T) {
	ctx := context.Background()
	m := NewLendingMarket(idA, lendingParams(), debtMap{idA: d(1_000)})
	now, err := m.EstimatedAPRAfterDelta(ctx, decimal.Zero)
	require.NoError(t, err)
	after, err := m.EstimatedAPRAfterDelta(ctx, d(1_000))
	require.NoError(t, err)
	assert.True(t, after.LessThan(now))
}

func TestLendingMarket_EmptyPool(t *testing.T) {
	p := lendingParams()
	p.Borrowed = decimal.Zero
	m := NewLendingMarket(idA, p, debtMap{idA: decimal.Zero})
	apr, err := m.EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, apr.IsZero())
}

func TestRemote_FetchesAPR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apr", r.URL.Path)
		assert.Equal(t, idA.Hex(), r.URL.Query().Get("strategy"))
		assert.Equal(t, "-250", r.URL.Query().Get("delta"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"apr":"123456789"}`))
	}))
	defer srv.Close()

	r := NewRemote(idA, srv.URL+"/", "key", "")
	apr, err := r.EstimatedAPRAfterDelta(context.Background(), d(-250))
	require.NoError(t, err)
	assert.True(t, apr.Equal(d(123_456_789)))
}

func TestRemote_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadRequest, `{"error":"bad"}`},
		{"negative apr", http.StatusOK, `{"apr":"-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRemote(idA, srv.URL, "", "").EstimatedAPRAfterDelta(context.Background(), decimal.Zero)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_FromConfig(t *testing.T) {
	cfgs := []config.StrategyConfig{
		{ID: idA.Hex(), Kind: "linear", Base: config.NewAmount(1_000), Slope: config.NewAmount(1)},
		{ID: idB.Hex(), Kind: "lending", Borrowed: config.NewAmount(10), KinkBPS: 8_000},
	}
	c, err := FromConfig(cfgs, debtMap{idA: d(0), idB: d(0)}, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []model.StrategyID{idA, idB}, c.IDs())

	s, err := c.Get(idB)
	require.NoError(t, err)
	assert.IsType(t, &LendingMarket{}, s)

	_, err = c.Get(common.HexToAddress("0x09"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = FromConfig([]config.StrategyConfig{{ID: idA.Hex(), Kind: "magic"}}, debtMap{}, "", zerolog.Nop())
	assert.Error(t, err)
}
