package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/datekey"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/meter"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
)

// cachedReport serves a report from the cache under the station's current
// revision. Cache faults only cost a rebuild.
func cachedReport[T any](ctx context.Context, s *Service, stationID string, key string, build func() (T, error)) (T, error) {
	rev, err := s.reports.Revision(ctx, stationID)
	if err != nil {
		s.logger.Warn("read report revision", zap.String("station_id", stationID), zap.Error(err))
		return build()
	}
	cacheKey := fmt.Sprintf("%s:%s:r%d", key, stationID, rev)

	var hit T
	found, err := s.reports.Get(ctx, cacheKey, &hit)
	if err != nil {
		s.logger.Warn("read cached report", zap.String("key", cacheKey), zap.Error(err))
	} else if found {
		return hit, nil
	}

	report, err := build()
	if err != nil {
		return report, err
	}
	if err := s.reports.Set(ctx, cacheKey, report, s.reportTTL); err != nil {
		s.logger.Warn("store cached report", zap.String("key", cacheKey), zap.Error(err))
	}
	return report, nil
}

// StockBalance reconciles fuel stock across every shift whose date key falls
// in [fromKey, toKey]. One day or one month are the usual periods.
func (s *Service) StockBalance(ctx context.Context, stationID string, fromKey string, toKey string) (domain.StockBalanceReport, error) {
	if !isAdmin(ctx) {
		return domain.StockBalanceReport{}, ErrAdminRequired
	}
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	fromKey = defaultString(strings.TrimSpace(fromKey), datekey.FromTime(s.now()))
	toKey = defaultString(strings.TrimSpace(toKey), fromKey)
	if _, _, err := datekey.SpanUTC(fromKey, toKey); err != nil {
		return domain.StockBalanceReport{}, err
	}

	return cachedReport(ctx, s, stationID, "stock:"+fromKey+":"+toKey, func() (domain.StockBalanceReport, error) {
		return s.buildStockBalance(ctx, stationID, fromKey, toKey)
	})
}

func (s *Service) buildStockBalance(ctx context.Context, stationID string, fromKey string, toKey string) (domain.StockBalanceReport, error) {
	shifts, err := s.repo.ListShiftsInRange(ctx, stationID, fromKey, toKey)
	if err != nil {
		return domain.StockBalanceReport{}, err
	}
	if len(shifts) == 0 {
		return domain.StockBalanceReport{}, fmt.Errorf("%w: no shifts between %s and %s", store.ErrNotFound, fromKey, toKey)
	}

	period := domain.StockPeriod{
		Opening:  shifts[0].OpeningStock,
		Supplies: decimal.Zero,
		Sales:    decimal.Zero,
	}
	var lastClosed *domain.Shift
	openShifts := make(map[string]bool)
	for i := range shifts {
		sh := shifts[i]
		if sh.Status == domain.ShiftStatusOpen {
			openShifts[sh.ID] = true
			continue
		}
		meters, err := s.repo.ListMeterReadings(ctx, sh.ID)
		if err != nil {
			return domain.StockBalanceReport{}, err
		}
		period.Sales = period.Sales.Add(meter.TotalSold(meters))
		if sh.ClosingStock.Valid {
			lastClosed = &shifts[i]
		}
	}
	if lastClosed == nil {
		return domain.StockBalanceReport{}, fmt.Errorf("%w: no closed shift between %s and %s", store.ErrNotFound, fromKey, toKey)
	}
	period.ActualClosing = lastClosed.ClosingStock.Decimal

	supplies, err := s.repo.ListSupplies(ctx, stationID, fromKey, toKey)
	if err != nil {
		return domain.StockBalanceReport{}, err
	}
	for _, sup := range supplies {
		// Deliveries into a shift that is still OPEN are not yet reflected in
		// any closing stock.
		if sup.ShiftID != "" && openShifts[sup.ShiftID] {
			continue
		}
		period.Supplies = period.Supplies.Add(sup.Liters)
	}

	return domain.StockBalanceReport{
		StationID:    stationID,
		FromDateKey:  fromKey,
		ToDateKey:    toKey,
		ShiftCount:   len(shifts),
		StockBalance: s.machine.Reconciler().ComputeStockBalance(period),
	}, nil
}

// GaugeCrossCheck compares tank levels across the day with meter sales of
// the day's closed shifts.
func (s *Service) GaugeCrossCheck(ctx context.Context, stationID string, dateKey string) (domain.GaugeCheckReport, error) {
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	dateKey = defaultString(strings.TrimSpace(dateKey), datekey.FromTime(s.now()))
	if err := datekey.Validate(dateKey); err != nil {
		return domain.GaugeCheckReport{}, err
	}

	return cachedReport(ctx, s, stationID, "gauge:"+dateKey, func() (domain.GaugeCheckReport, error) {
		readings, err := s.repo.ListGaugeReadingsByDate(ctx, stationID, dateKey)
		if err != nil {
			return domain.GaugeCheckReport{}, err
		}
		shifts, err := s.repo.ListShifts(ctx, stationID, dateKey)
		if err != nil {
			return domain.GaugeCheckReport{}, err
		}
		sold := decimal.Zero
		for _, sh := range shifts {
			if sh.Status == domain.ShiftStatusOpen {
				continue
			}
			meters, err := s.repo.ListMeterReadings(ctx, sh.ID)
			if err != nil {
				return domain.GaugeCheckReport{}, err
			}
			sold = sold.Add(meter.TotalSold(meters))
		}

		comparison := s.machine.Gauges().Compare(readings, sold)
		if comparison.Abnormal {
			s.logger.Warn("gauge usage deviates from meter sales",
				zap.String("station_id", stationID),
				zap.String("date_key", dateKey),
				zap.String("used_liters", comparison.UsedLiters.String()),
				zap.String("meter_sold", comparison.MeterSold.String()),
			)
		}
		return domain.GaugeCheckReport{StationID: stationID, DateKey: dateKey, GaugeComparison: comparison}, nil
	})
}

var paymentOrder = []domain.PaymentType{domain.PaymentCash, domain.PaymentCredit, domain.PaymentCard, domain.PaymentTransfer}

// DailySales totals the Bangkok day's sales by payment type. Voided sales are
// counted but excluded from liters and amount.
func (s *Service) DailySales(ctx context.Context, stationID string, dateKey string) (domain.DailySalesReport, error) {
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	dateKey = defaultString(strings.TrimSpace(dateKey), datekey.FromTime(s.now()))
	from, to, err := datekey.UTCRange(dateKey)
	if err != nil {
		return domain.DailySalesReport{}, err
	}

	return cachedReport(ctx, s, stationID, "sales:"+dateKey, func() (domain.DailySalesReport, error) {
		list, err := s.repo.ListTransactionsInRange(ctx, stationID, from, to)
		if err != nil {
			return domain.DailySalesReport{}, err
		}

		byType := make(map[domain.PaymentType]*domain.DailySalesPayment, len(paymentOrder))
		for _, p := range paymentOrder {
			byType[p] = &domain.DailySalesPayment{PaymentType: p, Liters: decimal.Zero, Amount: decimal.Zero}
		}
		report := domain.DailySalesReport{
			StationID: stationID,
			DateKey:   dateKey,
			Liters:    decimal.Zero,
			Amount:    decimal.Zero,
		}
		for _, trx := range list {
			if trx.IsVoided {
				report.Voided++
				continue
			}
			row, ok := byType[trx.PaymentType]
			if !ok {
				continue
			}
			row.Transactions++
			row.Liters = row.Liters.Add(trx.Liters)
			row.Amount = row.Amount.Add(trx.Amount)
			report.Transactions++
			report.Liters = report.Liters.Add(trx.Liters)
			report.Amount = report.Amount.Add(trx.Amount)
		}
		report.ByPayment = make([]domain.DailySalesPayment, 0, len(paymentOrder))
		for _, p := range paymentOrder {
			report.ByPayment = append(report.ByPayment, *byType[p])
		}
		return report, nil
	})
}
