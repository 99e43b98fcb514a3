package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{StockTolerancePercent: decimal.NewFromInt(5)})
	require.NoError(t, err)
	return e
}

func n(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func TestNewRejectsNegativeTolerance(t *testing.T) {
	_, err := New(Config{StockTolerancePercent: n(-0.1)})
	assert.Error(t, err)
}

func TestMoneyVarianceBalanced(t *testing.T) {
	e := newTestEngine(t)
	got := e.ComputeMoneyVariance(n(1000), decimal.Zero, domain.Received{Cash: n(1000)})

	assert.True(t, got.Variance.IsZero())
	assert.Equal(t, domain.VarianceBalanced, got.VarianceStatus)
	assert.Equal(t, "1000", got.TotalExpected.String())
	assert.Equal(t, "1000", got.TotalReceived.String())
}

func TestMoneyVarianceZeroExpected(t *testing.T) {
	e := newTestEngine(t)
	got := e.ComputeMoneyVariance(decimal.Zero, decimal.Zero, domain.Received{})

	assert.True(t, got.VariancePercentage.IsZero())
	assert.Equal(t, domain.VarianceBalanced, got.VarianceStatus)

	tip := e.ComputeMoneyVariance(decimal.Zero, decimal.Zero, domain.Received{Cash: n(20)})
	assert.Equal(t, domain.VarianceOver, tip.VarianceStatus)
	assert.True(t, tip.VariancePercentage.IsZero())
}

func TestMoneyVarianceOverAndShort(t *testing.T) {
	e := newTestEngine(t)

	over := e.ComputeMoneyVariance(n(1500), n(500), domain.Received{Cash: n(1000), Credit: n(600), Card: n(300), Transfer: n(150)})
	assert.Equal(t, "2000", over.TotalExpected.String())
	assert.Equal(t, "2050", over.TotalReceived.String())
	assert.Equal(t, "50", over.Variance.String())
	assert.Equal(t, "2.5", over.VariancePercentage.String())
	assert.Equal(t, domain.VarianceOver, over.VarianceStatus)

	// Any nonzero variance is classified, no matter how small.
	short := e.ComputeMoneyVariance(n(1000), decimal.Zero, domain.Received{Cash: n(999.99)})
	assert.Equal(t, "-0.01", short.Variance.String())
	assert.Equal(t, domain.VarianceShort, short.VarianceStatus)
	assert.True(t, short.VariancePercentage.IsZero())
}

func TestMoneyVarianceAvoidsFloatDrift(t *testing.T) {
	e := newTestEngine(t)
	got := e.ComputeMoneyVariance(n(0.3), decimal.Zero, domain.Received{Cash: n(0.1), Card: n(0.2)})
	assert.Equal(t, domain.VarianceBalanced, got.VarianceStatus)
}

func TestStockBalance(t *testing.T) {
	e := newTestEngine(t)

	got := e.ComputeStockBalance(domain.StockPeriod{Opening: n(5000), Supplies: n(2000), Sales: n(3000), ActualClosing: n(3900)})
	assert.Equal(t, "4000", got.ExpectedClosing.String())
	assert.Equal(t, "-100", got.Variance.String())
	assert.Equal(t, "-2.5", got.VariancePercent.String())
	assert.True(t, got.IsBalanced)

	off := e.ComputeStockBalance(domain.StockPeriod{Opening: n(5000), Supplies: n(2000), Sales: n(3000), ActualClosing: n(3700)})
	assert.Equal(t, "-7.5", off.VariancePercent.String())
	assert.False(t, off.IsBalanced)

	edge := e.ComputeStockBalance(domain.StockPeriod{Opening: n(1000), ActualClosing: n(1050)})
	assert.Equal(t, "5", edge.VariancePercent.String())
	assert.True(t, edge.IsBalanced)
}

func TestStockBalanceZeroExpected(t *testing.T) {
	e := newTestEngine(t)

	empty := e.ComputeStockBalance(domain.StockPeriod{})
	assert.True(t, empty.VariancePercent.IsZero())
	assert.True(t, empty.IsBalanced)

	phantom := e.ComputeStockBalance(domain.StockPeriod{Opening: n(100), Sales: n(100), ActualClosing: n(40)})
	assert.True(t, phantom.VariancePercent.IsZero())
	assert.False(t, phantom.IsBalanced)
}
