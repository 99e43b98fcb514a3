package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict reports a uniqueness violation, such as a second OPEN shift
	// for the same station and day.
	ErrConflict = errors.New("conflict")
	// ErrStale reports that the shift's transactions changed after the
	// caller totalled them.
	ErrStale = errors.New("stale transaction totals")
)

// TransactionTotals summarises the non-voided transactions bound to a shift.
type TransactionTotals struct {
	Count  int             `db:"count"`
	Amount decimal.Decimal `db:"amount"`
	Liters decimal.Decimal `db:"liters"`
}

func (t TransactionTotals) Equal(other TransactionTotals) bool {
	return t.Count == other.Count && t.Amount.Equal(other.Amount) && t.Liters.Equal(other.Liters)
}

// SumTransactions totals the non-voided entries of list.
func SumTransactions(list []domain.Transaction) TransactionTotals {
	totals := TransactionTotals{Amount: decimal.Zero, Liters: decimal.Zero}
	for _, trx := range list {
		if trx.IsVoided {
			continue
		}
		totals.Count++
		totals.Amount = totals.Amount.Add(trx.Amount)
		totals.Liters = totals.Liters.Add(trx.Liters)
	}
	return totals
}

// ShiftClosing is everything a successful close writes. Implementations
// persist it in one unit and only if the shift is still OPEN and its
// transactions still add up to Totals; otherwise they return ErrConflict or
// ErrStale.
type ShiftClosing struct {
	Shift    domain.Shift
	Meters   []domain.MeterReading
	Gauges   []domain.GaugeReading
	Snapshot domain.ReconciliationSnapshot
	Totals   TransactionTotals
}

type Repository interface {
	CreateShift(ctx context.Context, shift domain.Shift, meters []domain.MeterReading, gauges []domain.GaugeReading) error
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	ListShifts(ctx context.Context, stationID string, dateKey string) ([]domain.Shift, error)
	ListShiftsInRange(ctx context.Context, stationID string, fromKey string, toKey string) ([]domain.Shift, error)
	LatestClosedShift(ctx context.Context, stationID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, closing ShiftClosing) error
	LockShift(ctx context.Context, id string, lockedAt time.Time) error

	ListMeterReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error)
	SaveStartMeters(ctx context.Context, shiftID string, readings []domain.MeterReading) error
	ListGaugeReadings(ctx context.Context, shiftID string) ([]domain.GaugeReading, error)
	ListGaugeReadingsByDate(ctx context.Context, stationID string, dateKey string) ([]domain.GaugeReading, error)
	SaveStartGauges(ctx context.Context, shift domain.Shift, readings []domain.GaugeReading) error

	CreateTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) error
	ListTransactionsByShift(ctx context.Context, shiftID string) ([]domain.Transaction, error)
	ListTransactionsInRange(ctx context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error)

	CreateSupply(ctx context.Context, supply domain.Supply) error
	ListSupplies(ctx context.Context, stationID string, fromKey string, toKey string) ([]domain.Supply, error)

	GetSnapshot(ctx context.Context, shiftID string) (*domain.ReconciliationSnapshot, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
