// Package shift holds the OPEN -> CLOSED -> LOCKED lifecycle of a station shift.
//
// The machine only decides transitions. Mutual exclusion between concurrent
// opens belongs to the store (unique index) and the caller's lock.
package shift

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/datekey"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/gauge"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/meter"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/reconcile"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/xid"
)

var (
	ErrShiftAlreadyOpen   = errors.New("shift already open")
	ErrShiftNotOpen       = errors.New("shift is not open")
	ErrShiftLocked        = errors.New("shift is locked")
	ErrShiftCloseRejected = errors.New("shift close rejected")
	ErrInvalidShiftNumber = errors.New("invalid shift number")
	ErrShiftNumberTaken   = errors.New("shift number already used for this day")
	ErrInvalidReading     = errors.New("invalid reading")
	ErrInvalidShift       = errors.New("invalid shift")
)

// CloseRejectedError lists every reason a close was refused.
type CloseRejectedError struct {
	Errors []string
}

func (e *CloseRejectedError) Error() string {
	return ErrShiftCloseRejected.Error() + ": " + strings.Join(e.Errors, "; ")
}

func (e *CloseRejectedError) Unwrap() error {
	return ErrShiftCloseRejected
}

type ReadingsRejectedError struct {
	Errors []string
}

func (e *ReadingsRejectedError) Error() string {
	return ErrInvalidReading.Error() + ": " + strings.Join(e.Errors, "; ")
}

func (e *ReadingsRejectedError) Unwrap() error {
	return ErrInvalidReading
}

type Config struct {
	LockThreshold   time.Duration
	MaxShiftsPerDay int
}

type Machine struct {
	cfg    Config
	meters *meter.Service
	gauges *gauge.Service
	recon  *reconcile.Engine
	now    func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func New(cfg Config, meters *meter.Service, gauges *gauge.Service, recon *reconcile.Engine, opts ...Option) (*Machine, error) {
	if cfg.LockThreshold <= 0 {
		return nil, fmt.Errorf("shift: lock threshold must be positive")
	}
	if cfg.MaxShiftsPerDay < 1 {
		return nil, fmt.Errorf("shift: max shifts per day must be at least 1")
	}
	if meters == nil || gauges == nil || recon == nil {
		return nil, fmt.Errorf("shift: meter, gauge and reconcile services are required")
	}

	m := &Machine{cfg: cfg, meters: meters, gauges: gauges, recon: recon, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) Meters() *meter.Service {
	return m.meters
}

func (m *Machine) Gauges() *gauge.Service {
	return m.gauges
}

func (m *Machine) Reconciler() *reconcile.Engine {
	return m.recon
}

// CanOpen reports whether none of the day's shifts is still OPEN.
func CanOpen(existing []domain.Shift) bool {
	for _, s := range existing {
		if s.Status == domain.ShiftStatusOpen {
			return false
		}
	}
	return true
}

// PriorShift picks the closed shift of the same day with the highest number
// below shiftNumber.
func PriorShift(existing []domain.Shift, shiftNumber int) (domain.Shift, bool) {
	var best domain.Shift
	found := false
	for _, s := range existing {
		if s.Status == domain.ShiftStatusOpen || s.ShiftNumber >= shiftNumber {
			continue
		}
		if !found || s.ShiftNumber > best.ShiftNumber {
			best = s
			found = true
		}
	}
	return best, found
}

// Carry is the closed shift whose end readings seed a new shift.
type Carry struct {
	Shift  domain.Shift
	Meters []domain.MeterReading
	Gauges []domain.GaugeReading
}

type OpenParams struct {
	StationID   string
	DateKey     string
	ShiftNumber int
	StaffName   string
	OpenedBy    string
	StartMeters []domain.MeterValue
	StartGauges []domain.GaugeValue
	Prior       *Carry
}

type Opened struct {
	Shift  domain.Shift
	Meters []domain.MeterReading
	Gauges []domain.GaugeReading
}

// Open builds a new OPEN shift with one START placeholder per nozzle and tank.
// Carried-over end readings take precedence; manual values fill the gaps.
func (m *Machine) Open(p OpenParams, existing []domain.Shift) (Opened, error) {
	p.StationID = strings.TrimSpace(p.StationID)
	p.StaffName = strings.TrimSpace(p.StaffName)
	if p.StationID == "" || p.StaffName == "" {
		return Opened{}, fmt.Errorf("%w: station and staff name are required", ErrInvalidShift)
	}
	if err := datekey.Validate(p.DateKey); err != nil {
		return Opened{}, err
	}
	if p.ShiftNumber < 1 || p.ShiftNumber > m.cfg.MaxShiftsPerDay {
		return Opened{}, fmt.Errorf("%w: %d (expected 1-%d)", ErrInvalidShiftNumber, p.ShiftNumber, m.cfg.MaxShiftsPerDay)
	}
	if !CanOpen(existing) {
		return Opened{}, ErrShiftAlreadyOpen
	}
	for _, s := range existing {
		if s.ShiftNumber == p.ShiftNumber {
			return Opened{}, fmt.Errorf("%w: %d", ErrShiftNumberTaken, p.ShiftNumber)
		}
	}
	if problems := m.checkStartValues(p.StartMeters, p.StartGauges); len(problems) > 0 {
		return Opened{}, &ReadingsRejectedError{Errors: problems}
	}

	now := m.now().UTC()
	shift := domain.Shift{
		ID:          xid.New("shf"),
		StationID:   p.StationID,
		DateKey:     p.DateKey,
		ShiftNumber: p.ShiftNumber,
		Status:      domain.ShiftStatusOpen,
		StaffName:   p.StaffName,
		OpenedAt:    now,
		OpenedBy:    p.OpenedBy,
	}

	carriedMeters := map[int]domain.MeterReading{}
	carriedGauges := map[int]domain.GaugeReading{}
	if p.Prior != nil {
		shift.CarryOverFromShiftID = p.Prior.Shift.ID
		for _, r := range p.Prior.Meters {
			if r.EndReading.Valid {
				carriedMeters[r.NozzleNumber] = r
			}
		}
		for _, g := range p.Prior.Gauges {
			if g.Type == domain.PhaseEnd && g.Percentage.Valid {
				carriedGauges[g.TankNumber] = g
			}
		}
	}
	manualMeters := map[int]domain.MeterValue{}
	for _, v := range p.StartMeters {
		manualMeters[v.NozzleNumber] = v
	}
	manualGauges := map[int]domain.GaugeValue{}
	for _, v := range p.StartGauges {
		manualGauges[v.TankNumber] = v
	}

	meters := make([]domain.MeterReading, 0, m.meters.NozzleCount())
	for n := 1; n <= m.meters.NozzleCount(); n++ {
		r := domain.MeterReading{ShiftID: shift.ID, NozzleNumber: n}
		if prev, ok := carriedMeters[n]; ok {
			r.StartReading = prev.EndReading
			r.StartPhotoURL = prev.EndPhotoURL
		} else if v, ok := manualMeters[n]; ok {
			r.StartReading = v.Value
			r.StartPhotoURL = v.PhotoURL
		}
		meters = append(meters, r)
	}

	gauges := make([]domain.GaugeReading, 0, m.gauges.TankCount())
	for n := 1; n <= m.gauges.TankCount(); n++ {
		g := domain.GaugeReading{
			ID:         xid.New("gau"),
			StationID:  shift.StationID,
			ShiftID:    shift.ID,
			DateKey:    shift.DateKey,
			TankNumber: n,
			Type:       domain.PhaseStart,
			RecordedAt: now,
		}
		if prev, ok := carriedGauges[n]; ok {
			g.Percentage = prev.Percentage
			g.PhotoURL = prev.PhotoURL
		} else if v, ok := manualGauges[n]; ok {
			g.Percentage = v.Percentage
			g.PhotoURL = v.PhotoURL
		}
		gauges = append(gauges, g)
	}

	shift.OpeningStock = m.gauges.TotalStock(gauges)
	return Opened{Shift: shift, Meters: meters, Gauges: gauges}, nil
}

func (m *Machine) checkStartValues(meters []domain.MeterValue, gauges []domain.GaugeValue) []string {
	var problems []string
	for _, v := range meters {
		if err := m.meters.CheckNozzle(v.NozzleNumber); err != nil {
			problems = append(problems, fmt.Sprintf("nozzle %d: out of range 1-%d", v.NozzleNumber, m.meters.NozzleCount()))
			continue
		}
		if v.Value.Valid && v.Value.Decimal.IsNegative() {
			problems = append(problems, fmt.Sprintf("nozzle %d: start reading must not be negative", v.NozzleNumber))
		}
	}
	for _, v := range gauges {
		if err := m.gauges.CheckTank(v.TankNumber); err != nil {
			problems = append(problems, fmt.Sprintf("tank %d: out of range 1-%d", v.TankNumber, m.gauges.TankCount()))
			continue
		}
		if v.Percentage.Valid && (v.Percentage.Decimal.IsNegative() || v.Percentage.Decimal.GreaterThan(decimal.NewFromInt(100))) {
			problems = append(problems, fmt.Sprintf("tank %d: percentage %s is outside 0-100", v.TankNumber, v.Percentage.Decimal.String()))
		}
	}
	return problems
}

// ApplyStartMeters records manually entered start counters on an OPEN shift.
func (m *Machine) ApplyStartMeters(s domain.Shift, current []domain.MeterReading, values []domain.MeterValue) ([]domain.MeterReading, error) {
	if s.Status != domain.ShiftStatusOpen {
		return nil, ErrShiftNotOpen
	}

	byNozzle := make(map[int]domain.MeterReading, len(current))
	for _, r := range current {
		byNozzle[r.NozzleNumber] = r
	}
	var problems []string
	for _, v := range values {
		if err := m.meters.CheckNozzle(v.NozzleNumber); err != nil {
			problems = append(problems, fmt.Sprintf("nozzle %d: out of range 1-%d", v.NozzleNumber, m.meters.NozzleCount()))
			continue
		}
		if !v.Value.Valid {
			problems = append(problems, fmt.Sprintf("nozzle %d: start reading is required", v.NozzleNumber))
			continue
		}
		if v.Value.Decimal.IsNegative() {
			problems = append(problems, fmt.Sprintf("nozzle %d: start reading must not be negative", v.NozzleNumber))
			continue
		}
		r, ok := byNozzle[v.NozzleNumber]
		if !ok {
			r = domain.MeterReading{ShiftID: s.ID, NozzleNumber: v.NozzleNumber}
		}
		r.StartReading = v.Value
		if v.PhotoURL != "" {
			r.StartPhotoURL = v.PhotoURL
		}
		byNozzle[v.NozzleNumber] = r
	}
	if len(problems) > 0 {
		return nil, &ReadingsRejectedError{Errors: problems}
	}

	out := make([]domain.MeterReading, 0, len(byNozzle))
	for _, r := range byNozzle {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NozzleNumber < out[j].NozzleNumber })
	return out, nil
}

// ApplyStartGauges records manually entered start levels and recomputes the
// opening stock.
func (m *Machine) ApplyStartGauges(s domain.Shift, current []domain.GaugeReading, values []domain.GaugeValue) (domain.Shift, []domain.GaugeReading, error) {
	if s.Status != domain.ShiftStatusOpen {
		return domain.Shift{}, nil, ErrShiftNotOpen
	}

	byTank := make(map[int]domain.GaugeReading, len(current))
	for _, g := range current {
		if g.Type == domain.PhaseStart {
			byTank[g.TankNumber] = g
		}
	}
	now := m.now().UTC()
	var problems []string
	for _, v := range values {
		if err := m.gauges.CheckTank(v.TankNumber); err != nil {
			problems = append(problems, fmt.Sprintf("tank %d: out of range 1-%d", v.TankNumber, m.gauges.TankCount()))
			continue
		}
		if !v.Percentage.Valid {
			problems = append(problems, fmt.Sprintf("tank %d: percentage is required", v.TankNumber))
			continue
		}
		g, ok := byTank[v.TankNumber]
		if !ok {
			g = domain.GaugeReading{
				ID:         xid.New("gau"),
				StationID:  s.StationID,
				ShiftID:    s.ID,
				DateKey:    s.DateKey,
				TankNumber: v.TankNumber,
				Type:       domain.PhaseStart,
			}
		}
		g.Percentage = v.Percentage
		g.RecordedAt = now
		if v.PhotoURL != "" {
			g.PhotoURL = v.PhotoURL
		}
		byTank[v.TankNumber] = g
	}

	out := make([]domain.GaugeReading, 0, len(byTank))
	for _, g := range byTank {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankNumber < out[j].TankNumber })

	for _, g := range out {
		if g.Percentage.Valid && (g.Percentage.Decimal.IsNegative() || g.Percentage.Decimal.GreaterThan(decimal.NewFromInt(100))) {
			problems = append(problems, fmt.Sprintf("tank %d: percentage %s is outside 0-100", g.TankNumber, g.Percentage.Decimal.String()))
		}
	}
	if len(problems) > 0 {
		return domain.Shift{}, nil, &ReadingsRejectedError{Errors: problems}
	}

	s.OpeningStock = m.gauges.TotalStock(out)
	return s, out, nil
}

type CloseParams struct {
	Shift               domain.Shift
	StartMeters         []domain.MeterReading
	EndMeters           []domain.MeterValue
	EndGauges           []domain.GaugeValue
	Received            domain.ReceivedInput
	ExpectedFuelAmount  decimal.Decimal
	ExpectedOtherAmount decimal.Decimal
	TransactionLiters   decimal.Decimal
	ClosedBy            string
}

type Closed struct {
	Shift    domain.Shift
	Meters   []domain.MeterReading
	Gauges   []domain.GaugeReading
	Snapshot domain.ReconciliationSnapshot
	Warnings []string
}

// Close validates end readings and received money in one pass. On any
// problem it returns *CloseRejectedError and the input shift is untouched.
func (m *Machine) Close(p CloseParams) (Closed, error) {
	if p.Shift.Status != domain.ShiftStatusOpen {
		return Closed{}, fmt.Errorf("%w: %s is %s", ErrShiftNotOpen, p.Shift.ID, p.Shift.Status)
	}

	now := m.now().UTC()
	starts := make(map[int]domain.MeterReading, len(p.StartMeters))
	for _, r := range p.StartMeters {
		starts[r.NozzleNumber] = r
	}
	endMeters := make([]domain.MeterReading, 0, len(p.EndMeters))
	for _, v := range p.EndMeters {
		start := starts[v.NozzleNumber]
		endMeters = append(endMeters, domain.MeterReading{
			ShiftID:       p.Shift.ID,
			NozzleNumber:  v.NozzleNumber,
			StartReading:  start.StartReading,
			StartPhotoURL: start.StartPhotoURL,
			EndReading:    v.Value,
			EndPhotoURL:   v.PhotoURL,
		})
	}
	endGauges := make([]domain.GaugeReading, 0, len(p.EndGauges))
	for _, v := range p.EndGauges {
		endGauges = append(endGauges, domain.GaugeReading{
			ID:         xid.New("gau"),
			StationID:  p.Shift.StationID,
			ShiftID:    p.Shift.ID,
			DateKey:    p.Shift.DateKey,
			TankNumber: v.TankNumber,
			Type:       domain.PhaseEnd,
			Percentage: v.Percentage,
			PhotoURL:   v.PhotoURL,
			RecordedAt: now,
		})
	}

	meterResult := m.meters.Validate(endMeters, domain.PhaseEnd)
	gaugeResult := m.gauges.Validate(endGauges)

	problems := make([]string, 0, len(meterResult.Errors)+len(gaugeResult.Errors))
	problems = append(problems, meterResult.Errors...)
	problems = append(problems, gaugeResult.Errors...)
	received, receivedProblems := receivedAmounts(p.Received)
	problems = append(problems, receivedProblems...)
	if p.ExpectedOtherAmount.IsNegative() {
		problems = append(problems, "expected other amount must not be negative")
	}
	if len(problems) > 0 {
		return Closed{}, &CloseRejectedError{Errors: problems}
	}

	endMeters = meter.WithSoldQty(endMeters)
	sort.Slice(endMeters, func(i, j int) bool { return endMeters[i].NozzleNumber < endMeters[j].NozzleNumber })
	sort.Slice(endGauges, func(i, j int) bool { return endGauges[i].TankNumber < endGauges[j].TankNumber })

	sold := meter.TotalSold(endMeters)
	closingStock := m.gauges.TotalStock(endGauges)
	variance := m.recon.ComputeMoneyVariance(p.ExpectedFuelAmount, p.ExpectedOtherAmount, received)
	discrepancy := m.meters.DetectDiscrepancy(sold, p.TransactionLiters)

	warnings := append([]string{}, meterResult.Warnings...)
	warnings = append(warnings, gaugeResult.Warnings...)
	if discrepancy.HasDiscrepancy {
		warnings = append(warnings, fmt.Sprintf("meters show %s L sold but transactions total %s L (difference %s L)",
			sold.String(), p.TransactionLiters.String(), discrepancy.Difference.String()))
	}
	if variance.VarianceStatus != domain.VarianceBalanced {
		warnings = append(warnings, fmt.Sprintf("money %s by %s", strings.ToLower(string(variance.VarianceStatus)), variance.Variance.Abs().StringFixed(2)))
	}

	closed := p.Shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &now
	closed.ClosedBy = p.ClosedBy
	closed.ClosingStock = decimal.NewNullDecimal(closingStock)

	return Closed{
		Shift:  closed,
		Meters: endMeters,
		Gauges: endGauges,
		Snapshot: domain.ReconciliationSnapshot{
			ShiftID:             closed.ID,
			StationID:           closed.StationID,
			DateKey:             closed.DateKey,
			ExpectedFuelAmount:  p.ExpectedFuelAmount,
			ExpectedOtherAmount: p.ExpectedOtherAmount,
			Received:            received,
			MoneyVariance:       variance,
			MeterSold:           sold,
			TransactionLiters:   p.TransactionLiters,
			Discrepancy:         discrepancy,
			ClosingStock:        closingStock,
			CreatedAt:           now,
		},
		Warnings: warnings,
	}, nil
}

func receivedAmounts(in domain.ReceivedInput) (domain.Received, []string) {
	var problems []string
	pick := func(name string, v decimal.NullDecimal) decimal.Decimal {
		if !v.Valid {
			problems = append(problems, fmt.Sprintf("received %s amount is required", name))
			return decimal.Zero
		}
		if v.Decimal.IsNegative() {
			problems = append(problems, fmt.Sprintf("received %s amount must not be negative", name))
			return decimal.Zero
		}
		return v.Decimal
	}
	out := domain.Received{
		Cash:     pick("cash", in.Cash),
		Credit:   pick("credit", in.Credit),
		Card:     pick("card", in.Card),
		Transfer: pick("transfer", in.Transfer),
	}
	return out, problems
}

// LockDue reports whether a CLOSED shift has passed the lock threshold.
func (m *Machine) LockDue(s domain.Shift) bool {
	if s.Status != domain.ShiftStatusClosed || s.ClosedAt == nil {
		return false
	}
	return m.now().Sub(*s.ClosedAt) > m.cfg.LockThreshold
}

// Lock moves a shift to LOCKED once it is due. The bool is false when nothing changed.
func (m *Machine) Lock(s domain.Shift) (domain.Shift, bool) {
	if !m.LockDue(s) {
		return s, false
	}
	at := m.now().UTC()
	s.Status = domain.ShiftStatusLocked
	s.LockedAt = &at
	return s, true
}

// CanMutate guards every change to a shift's transactions. adminOverride is
// the caller's elevated capability; no role lookup happens here.
func (m *Machine) CanMutate(s domain.Shift, adminOverride bool) error {
	if s.Status != domain.ShiftStatusLocked && !m.LockDue(s) {
		return nil
	}
	if adminOverride {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrShiftLocked, s.ID)
}
