// Package gauge converts tank percentage readings into stock volumes.
package gauge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
)

var ErrTankOutOfRange = errors.New("tank number out of range")

var hundred = decimal.NewFromInt(100)

type Config struct {
	TankCount int
	// CapacityLiters is the volume of a full tank; TankCapacities overrides it per tank.
	CapacityLiters    decimal.Decimal
	TankCapacities    map[int]decimal.Decimal
	LowPercent        decimal.Decimal
	CrossCheckPercent decimal.Decimal
}

type Service struct {
	tanks      int
	capacity   decimal.Decimal
	capacities map[int]decimal.Decimal
	low        decimal.Decimal
	crossCheck decimal.Decimal
}

func New(cfg Config) (*Service, error) {
	if cfg.TankCount < 1 {
		return nil, fmt.Errorf("gauge: tank count must be at least 1, got %d", cfg.TankCount)
	}
	if !cfg.CapacityLiters.IsPositive() {
		return nil, fmt.Errorf("gauge: tank capacity must be positive")
	}
	if cfg.LowPercent.IsNegative() || cfg.LowPercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("gauge: low level threshold must be within 0-100")
	}
	if cfg.CrossCheckPercent.IsNegative() {
		return nil, fmt.Errorf("gauge: cross-check threshold must not be negative")
	}

	capacities := make(map[int]decimal.Decimal, len(cfg.TankCapacities))
	for tank, c := range cfg.TankCapacities {
		if tank < 1 || tank > cfg.TankCount {
			return nil, fmt.Errorf("gauge: capacity override for %w: %d", ErrTankOutOfRange, tank)
		}
		if !c.IsPositive() {
			return nil, fmt.Errorf("gauge: capacity of tank %d must be positive", tank)
		}
		capacities[tank] = c
	}

	return &Service{
		tanks:      cfg.TankCount,
		capacity:   cfg.CapacityLiters,
		capacities: capacities,
		low:        cfg.LowPercent,
		crossCheck: cfg.CrossCheckPercent,
	}, nil
}

func (s *Service) TankCount() int {
	return s.tanks
}

func (s *Service) CheckTank(n int) error {
	if n < 1 || n > s.tanks {
		return fmt.Errorf("%w: %d (expected 1-%d)", ErrTankOutOfRange, n, s.tanks)
	}
	return nil
}

// Capacity returns the full-tank volume of tank n.
func (s *Service) Capacity(n int) (decimal.Decimal, error) {
	if err := s.CheckTank(n); err != nil {
		return decimal.Zero, err
	}
	if c, ok := s.capacities[n]; ok {
		return c, nil
	}
	return s.capacity, nil
}

// Validate requires one reading per tank with a percentage in [0,100].
// Levels under the low threshold are warnings only.
func (s *Service) Validate(readings []domain.GaugeReading) domain.ValidationResult {
	result := domain.ValidationResult{Errors: []string{}, Warnings: []string{}}

	seen := make(map[int]bool, s.tanks)
	for _, r := range readings {
		if r.TankNumber < 1 || r.TankNumber > s.tanks {
			result.Errors = append(result.Errors, fmt.Sprintf("tank %d: out of range 1-%d", r.TankNumber, s.tanks))
			continue
		}
		if seen[r.TankNumber] {
			result.Errors = append(result.Errors, fmt.Sprintf("tank %d: duplicate reading", r.TankNumber))
			continue
		}
		seen[r.TankNumber] = true

		if !r.Percentage.Valid {
			result.Errors = append(result.Errors, fmt.Sprintf("tank %d: percentage is required", r.TankNumber))
			continue
		}
		pct := r.Percentage.Decimal
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			result.Errors = append(result.Errors, fmt.Sprintf("tank %d: percentage %s is outside 0-100", r.TankNumber, pct.String()))
			continue
		}
		if pct.LessThan(s.low) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("tank %d: level %s%% is below %s%%", r.TankNumber, pct.String(), s.low.String()))
		}
	}

	for n := 1; n <= s.tanks; n++ {
		if !seen[n] {
			result.Errors = append(result.Errors, fmt.Sprintf("tank %d: missing reading", n))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// PercentageToLiters uses the station-wide capacity and rounds to whole liters.
func (s *Service) PercentageToLiters(pct decimal.Decimal) decimal.Decimal {
	return toLiters(pct, s.capacity)
}

func (s *Service) LitersForTank(tank int, pct decimal.Decimal) (decimal.Decimal, error) {
	c, err := s.Capacity(tank)
	if err != nil {
		return decimal.Zero, err
	}
	return toLiters(pct, c), nil
}

func toLiters(pct decimal.Decimal, capacity decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred).Mul(capacity).Round(0)
}

// TotalStock sums liters over readings that carry a percentage for a known tank.
func (s *Service) TotalStock(readings []domain.GaugeReading) decimal.Decimal {
	total := decimal.Zero
	for _, r := range readings {
		if !r.Percentage.Valid {
			continue
		}
		liters, err := s.LitersForTank(r.TankNumber, r.Percentage.Decimal)
		if err != nil {
			continue
		}
		total = total.Add(liters)
	}
	return total
}

// AveragePercentage is the mean level rounded to one decimal, or 0 with no readings.
func AveragePercentage(readings []domain.GaugeReading) decimal.Decimal {
	sum := decimal.Zero
	count := 0
	for _, r := range readings {
		if !r.Percentage.Valid {
			continue
		}
		sum = sum.Add(r.Percentage.Decimal)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count))).Round(1)
}

// Compare measures how much fuel left the tanks over a period and checks it
// against meter-derived sales. For each tank the earliest and latest readings
// by RecordedAt are used; refills between them are not accounted for.
func (s *Service) Compare(readings []domain.GaugeReading, meterSold decimal.Decimal) domain.GaugeComparison {
	byTank := make(map[int][]domain.GaugeReading)
	for _, r := range readings {
		if !r.Percentage.Valid || s.CheckTank(r.TankNumber) != nil {
			continue
		}
		byTank[r.TankNumber] = append(byTank[r.TankNumber], r)
	}

	tankNumbers := make([]int, 0, len(byTank))
	for n := range byTank {
		tankNumbers = append(tankNumbers, n)
	}
	sort.Ints(tankNumbers)

	out := domain.GaugeComparison{Tanks: []domain.TankUsage{}, UsedLiters: decimal.Zero, MeterSold: meterSold}
	for _, n := range tankNumbers {
		list := byTank[n]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].RecordedAt.Equal(list[j].RecordedAt) {
				return list[i].Type == domain.PhaseStart && list[j].Type == domain.PhaseEnd
			}
			return list[i].RecordedAt.Before(list[j].RecordedAt)
		})
		first := list[0].Percentage.Decimal
		last := list[len(list)-1].Percentage.Decimal

		drop := first.Sub(last)
		if drop.IsNegative() {
			drop = decimal.Zero
		}
		capacity, _ := s.Capacity(n)
		used := drop.Mul(capacity.Div(hundred))

		out.Tanks = append(out.Tanks, domain.TankUsage{TankNumber: n, FirstPercent: first, LastPercent: last, UsedLiters: used})
		out.UsedLiters = out.UsedLiters.Add(used)
	}

	out.Difference = out.UsedLiters.Sub(meterSold)
	if meterSold.IsPositive() {
		out.DifferencePercent = out.Difference.Abs().Div(meterSold).Mul(hundred).Round(2)
		out.Abnormal = out.DifferencePercent.GreaterThan(s.crossCheck)
	} else {
		// No sales to compare against: any drop at all is abnormal.
		out.DifferencePercent = decimal.Zero
		out.Abnormal = out.UsedLiters.IsPositive()
	}
	return out
}
