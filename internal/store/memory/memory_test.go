package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
)

func openShift(id string, number int) domain.Shift {
	return domain.Shift{
		ID:          id,
		StationID:   "station-a",
		DateKey:     "2026-03-01",
		ShiftNumber: number,
		Status:      domain.ShiftStatusOpen,
		StaffName:   "A",
		OpenedAt:    time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestCreateShiftEnforcesSingleOpenShift(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateShift(ctx, openShift("shf_1", 1), nil, nil); err != nil {
		t.Fatalf("create first shift: %v", err)
	}
	if err := s.CreateShift(ctx, openShift("shf_2", 2), nil, nil); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for second open shift, got %v", err)
	}

	other := openShift("shf_3", 1)
	other.DateKey = "2026-03-02"
	if err := s.CreateShift(ctx, other, nil, nil); err != nil {
		t.Fatalf("another day must be independent: %v", err)
	}
}

func TestCloseShiftIsConditionalOnOpen(t *testing.T) {
	ctx := context.Background()
	s := New()
	shift := openShift("shf_1", 1)
	if err := s.CreateShift(ctx, shift, []domain.MeterReading{{ShiftID: "shf_1", NozzleNumber: 1}}, nil); err != nil {
		t.Fatalf("create shift: %v", err)
	}

	closedAt := shift.OpenedAt.Add(8 * time.Hour)
	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	closing := store.ShiftClosing{
		Shift:    closed,
		Meters:   []domain.MeterReading{{ShiftID: "shf_1", NozzleNumber: 1, SoldQty: decimal.NewNullDecimal(decimal.NewFromInt(5))}},
		Gauges:   []domain.GaugeReading{{ShiftID: "shf_1", StationID: "station-a", DateKey: "2026-03-01", TankNumber: 1, Type: domain.PhaseEnd}},
		Snapshot: domain.ReconciliationSnapshot{ShiftID: "shf_1"},
	}
	if err := s.CloseShift(ctx, closing); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.CloseShift(ctx, closing); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on double close, got %v", err)
	}

	if _, err := s.GetSnapshot(ctx, "shf_1"); err != nil {
		t.Fatalf("snapshot should be stored: %v", err)
	}
	latest, err := s.LatestClosedShift(ctx, "station-a")
	if err != nil || latest.ID != "shf_1" {
		t.Fatalf("expected latest closed shf_1, got %+v err=%v", latest, err)
	}

	// The day is free again once the open shift closed.
	if err := s.CreateShift(ctx, openShift("shf_2", 2), nil, nil); err != nil {
		t.Fatalf("open after close: %v", err)
	}
}

func TestTransactionsOnlyAttachToOpenShift(t *testing.T) {
	ctx := context.Background()
	s := New()
	shift := openShift("shf_1", 1)
	_ = s.CreateShift(ctx, shift, nil, nil)

	tx := domain.Transaction{ID: "trx_1", StationID: "station-a", ShiftID: "shf_1", CreatedAt: shift.OpenedAt.Add(time.Hour)}
	if err := s.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create tx: %v", err)
	}

	closedAt := shift.OpenedAt.Add(2 * time.Hour)
	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	if err := s.CloseShift(ctx, store.ShiftClosing{Shift: closed}); !errors.Is(err, store.ErrStale) {
		t.Fatalf("expected ErrStale when the sale is missing from the totals, got %v", err)
	}
	if err := s.CloseShift(ctx, store.ShiftClosing{Shift: closed, Totals: store.TransactionTotals{Count: 1}}); err != nil {
		t.Fatalf("close: %v", err)
	}

	late := domain.Transaction{ID: "trx_2", StationID: "station-a", ShiftID: "shf_1", CreatedAt: closedAt.Add(time.Minute)}
	if err := s.CreateTransaction(ctx, late); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for closed shift, got %v", err)
	}

	inRange, _ := s.ListTransactionsInRange(ctx, "station-a", shift.OpenedAt, closedAt)
	if len(inRange) != 1 {
		t.Fatalf("expected 1 transaction in range, got %d", len(inRange))
	}
}

func TestLockShift(t *testing.T) {
	ctx := context.Background()
	s := New()
	shift := openShift("shf_1", 1)
	_ = s.CreateShift(ctx, shift, nil, nil)

	if err := s.LockShift(ctx, "shf_1", time.Now()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("open shift must not lock, got %v", err)
	}

	closedAt := shift.OpenedAt.Add(time.Hour)
	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	_ = s.CloseShift(ctx, store.ShiftClosing{Shift: closed})

	if err := s.LockShift(ctx, "shf_1", closedAt.Add(25*time.Hour)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	got, _ := s.GetShift(ctx, "shf_1")
	if got.Status != domain.ShiftStatusLocked || got.LockedAt == nil {
		t.Fatalf("expected LOCKED shift, got %+v", got)
	}
	if err := s.LockShift(ctx, "shf_1", time.Now()); err != nil {
		t.Fatalf("locking twice should be a no-op: %v", err)
	}
}

func TestSaveStartGaugesReplacesStartReadings(t *testing.T) {
	ctx := context.Background()
	s := New()
	shift := openShift("shf_1", 1)
	start := domain.GaugeReading{ID: "g1", ShiftID: "shf_1", StationID: "station-a", DateKey: "2026-03-01", TankNumber: 1, Type: domain.PhaseStart}
	_ = s.CreateShift(ctx, shift, nil, []domain.GaugeReading{start})

	replacement := start
	replacement.ID = "g2"
	replacement.Percentage = decimal.NewNullDecimal(decimal.NewFromInt(60))
	shift.OpeningStock = decimal.NewFromInt(1440)
	if err := s.SaveStartGauges(ctx, shift, []domain.GaugeReading{replacement}); err != nil {
		t.Fatalf("save start gauges: %v", err)
	}

	gauges, _ := s.ListGaugeReadings(ctx, "shf_1")
	if len(gauges) != 1 || gauges[0].ID != "g2" {
		t.Fatalf("expected replaced gauge g2, got %+v", gauges)
	}
	got, _ := s.GetShift(ctx, "shf_1")
	if got.OpeningStock.String() != "1440" {
		t.Fatalf("expected opening stock 1440, got %s", got.OpeningStock)
	}
}

func TestCloseShiftRejectsStaleTotals(t *testing.T) {
	ctx := context.Background()
	s := New()
	shift := openShift("shf_1", 1)
	_ = s.CreateShift(ctx, shift, nil, nil)

	sale := func(id string, liters int64) domain.Transaction {
		return domain.Transaction{
			ID:        id,
			StationID: "station-a",
			ShiftID:   "shf_1",
			Liters:    decimal.NewFromInt(liters),
			Amount:    decimal.NewFromInt(liters * 30),
			CreatedAt: shift.OpenedAt.Add(time.Hour),
		}
	}
	first := sale("trx_1", 10)
	if err := s.CreateTransaction(ctx, first); err != nil {
		t.Fatalf("create tx: %v", err)
	}
	seen := store.SumTransactions([]domain.Transaction{first})

	// A second sale lands after the caller totalled the shift.
	if err := s.CreateTransaction(ctx, sale("trx_2", 20)); err != nil {
		t.Fatalf("create tx: %v", err)
	}

	closedAt := shift.OpenedAt.Add(8 * time.Hour)
	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	if err := s.CloseShift(ctx, store.ShiftClosing{Shift: closed, Totals: seen}); !errors.Is(err, store.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	got, _ := s.GetShift(ctx, "shf_1")
	if got.Status != domain.ShiftStatusOpen {
		t.Fatalf("stale close must leave the shift open, got %s", got.Status)
	}

	all, _ := s.ListTransactionsByShift(ctx, "shf_1")
	totals := store.SumTransactions(all)
	if totals.Count != 2 || totals.Amount.String() != "900" {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if err := s.CloseShift(ctx, store.ShiftClosing{Shift: closed, Totals: totals}); err != nil {
		t.Fatalf("close with fresh totals: %v", err)
	}
}
