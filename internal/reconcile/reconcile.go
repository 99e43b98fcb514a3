// Package reconcile compares expected against received money and stock.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	// StockTolerancePercent is the largest |variancePercent| still counted as balanced.
	StockTolerancePercent decimal.Decimal
}

type Engine struct {
	tolerance decimal.Decimal
}

func New(cfg Config) (*Engine, error) {
	if cfg.StockTolerancePercent.IsNegative() {
		return nil, fmt.Errorf("reconcile: stock tolerance must not be negative")
	}
	return &Engine{tolerance: cfg.StockTolerancePercent}, nil
}

func (e *Engine) Tolerance() decimal.Decimal {
	return e.tolerance
}

// ComputeMoneyVariance is BALANCED only when received equals expected exactly.
func (e *Engine) ComputeMoneyVariance(expectedFuel decimal.Decimal, expectedOther decimal.Decimal, received domain.Received) domain.MoneyVariance {
	totalExpected := expectedFuel.Add(expectedOther)
	totalReceived := received.Cash.Add(received.Credit).Add(received.Card).Add(received.Transfer)
	variance := totalReceived.Sub(totalExpected)

	out := domain.MoneyVariance{
		TotalExpected:      totalExpected,
		TotalReceived:      totalReceived,
		Variance:           variance,
		VariancePercentage: percentOf(variance, totalExpected),
	}
	switch variance.Sign() {
	case 1:
		out.VarianceStatus = domain.VarianceOver
	case -1:
		out.VarianceStatus = domain.VarianceShort
	default:
		out.VarianceStatus = domain.VarianceBalanced
	}
	return out
}

func (e *Engine) ComputeStockBalance(period domain.StockPeriod) domain.StockBalance {
	expected := period.Opening.Add(period.Supplies).Sub(period.Sales)
	variance := period.ActualClosing.Sub(expected)
	pct := percentOf(variance, expected)

	balanced := pct.Abs().LessThanOrEqual(e.tolerance)
	if expected.IsZero() {
		balanced = variance.IsZero()
	}

	return domain.StockBalance{
		Opening:         period.Opening,
		Supplies:        period.Supplies,
		Sales:           period.Sales,
		ExpectedClosing: expected,
		ActualClosing:   period.ActualClosing,
		Variance:        variance,
		VariancePercent: pct,
		IsBalanced:      balanced,
	}
}

func percentOf(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
