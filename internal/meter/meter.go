// Package meter validates nozzle counter readings and derives sold liters.
package meter

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
)

var ErrNozzleOutOfRange = errors.New("nozzle number out of range")

var hundred = decimal.NewFromInt(100)

type Config struct {
	NozzleCount int
	// DiscrepancyThreshold is the tolerated gap in liters between meters and transactions.
	DiscrepancyThreshold decimal.Decimal
}

type Service struct {
	nozzles   int
	threshold decimal.Decimal
}

func New(cfg Config) (*Service, error) {
	if cfg.NozzleCount < 1 {
		return nil, fmt.Errorf("meter: nozzle count must be at least 1, got %d", cfg.NozzleCount)
	}
	if cfg.DiscrepancyThreshold.IsNegative() {
		return nil, fmt.Errorf("meter: discrepancy threshold must not be negative")
	}
	return &Service{nozzles: cfg.NozzleCount, threshold: cfg.DiscrepancyThreshold}, nil
}

func (s *Service) NozzleCount() int {
	return s.nozzles
}

func (s *Service) CheckNozzle(n int) error {
	if n < 1 || n > s.nozzles {
		return fmt.Errorf("%w: %d (expected 1-%d)", ErrNozzleOutOfRange, n, s.nozzles)
	}
	return nil
}

// Validate checks a shift's readings for the given phase. Every problem is
// reported; nothing stops at the first failure.
func (s *Service) Validate(readings []domain.MeterReading, phase domain.ReadingPhase) domain.ValidationResult {
	result := domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
	if !phase.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown meter phase %q", phase))
		return result
	}

	seen := make(map[int]bool, s.nozzles)
	for _, r := range readings {
		if r.NozzleNumber < 1 || r.NozzleNumber > s.nozzles {
			result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: out of range 1-%d", r.NozzleNumber, s.nozzles))
			continue
		}
		if seen[r.NozzleNumber] {
			result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: duplicate reading", r.NozzleNumber))
			continue
		}
		seen[r.NozzleNumber] = true

		startOK := checkValue(&result, r.NozzleNumber, "start", r.StartReading)
		if phase == domain.PhaseStart {
			continue
		}
		endOK := checkValue(&result, r.NozzleNumber, "end", r.EndReading)
		if startOK && endOK && r.EndReading.Decimal.LessThan(r.StartReading.Decimal) {
			result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: end reading %s is below start reading %s",
				r.NozzleNumber, r.EndReading.Decimal.String(), r.StartReading.Decimal.String()))
		}
	}

	for n := 1; n <= s.nozzles; n++ {
		if !seen[n] {
			result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: missing reading", n))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func checkValue(result *domain.ValidationResult, nozzle int, label string, v decimal.NullDecimal) bool {
	if !v.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: %s reading is required", nozzle, label))
		return false
	}
	if v.Decimal.IsNegative() {
		result.Errors = append(result.Errors, fmt.Sprintf("nozzle %d: %s reading must not be negative", nozzle, label))
		return false
	}
	return true
}

// SoldQty is end - start, clamped at zero.
func SoldQty(start decimal.Decimal, end decimal.Decimal) decimal.Decimal {
	sold := end.Sub(start)
	if sold.IsNegative() {
		return decimal.Zero
	}
	return sold
}

// TotalSold prefers a reading's stored SoldQty and derives it otherwise.
// Readings with neither are skipped.
func TotalSold(readings []domain.MeterReading) decimal.Decimal {
	total := decimal.Zero
	for _, r := range readings {
		switch {
		case r.SoldQty.Valid:
			total = total.Add(r.SoldQty.Decimal)
		case r.StartReading.Valid && r.EndReading.Valid:
			total = total.Add(SoldQty(r.StartReading.Decimal, r.EndReading.Decimal))
		}
	}
	return total
}

// WithSoldQty returns a copy of readings with SoldQty filled from start/end.
func WithSoldQty(readings []domain.MeterReading) []domain.MeterReading {
	out := make([]domain.MeterReading, len(readings))
	for i, r := range readings {
		if r.StartReading.Valid && r.EndReading.Valid {
			r.SoldQty = decimal.NewNullDecimal(SoldQty(r.StartReading.Decimal, r.EndReading.Decimal))
		}
		out[i] = r
	}
	return out
}

func (s *Service) DetectDiscrepancy(meterSold decimal.Decimal, transactionLiters decimal.Decimal) domain.Discrepancy {
	return DetectDiscrepancy(meterSold, transactionLiters, s.threshold)
}

// DetectDiscrepancy compares meter-derived liters with transaction liters.
// The percentage is relative to transaction liters and is 0 when there are none.
func DetectDiscrepancy(meterSold decimal.Decimal, transactionLiters decimal.Decimal, threshold decimal.Decimal) domain.Discrepancy {
	diff := meterSold.Sub(transactionLiters)
	pct := decimal.Zero
	if !transactionLiters.IsZero() {
		pct = diff.Div(transactionLiters).Mul(hundred).Round(2)
	}
	return domain.Discrepancy{
		HasDiscrepancy: diff.Abs().GreaterThan(threshold),
		Difference:     diff,
		Percentage:     pct,
	}
}
