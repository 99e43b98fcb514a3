package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/datekey"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/xid"
)

// RecordTransaction binds a sale to the station's OPEN shift for today at
// write time.
func (s *Service) RecordTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	if err := s.check(req); err != nil {
		return domain.Transaction{}, err
	}
	if err := checkSale(req.PaymentType, req.Liters, req.PricePerLiter); err != nil {
		return domain.Transaction{}, err
	}

	stationID := defaultString(strings.TrimSpace(req.StationID), s.defaultStationID)
	now := s.now().UTC()
	dateKey := datekey.FromTime(now)

	active, err := s.activeShift(ctx, stationID, dateKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Transaction{}, ErrActiveShiftRequired
		}
		return domain.Transaction{}, err
	}

	trx := domain.Transaction{
		ID:            xid.New("trx"),
		StationID:     stationID,
		ShiftID:       active.ID,
		DateKey:       dateKey,
		LicensePlate:  normalizePlate(req.LicensePlate),
		OwnerName:     strings.TrimSpace(req.OwnerName),
		PaymentType:   req.PaymentType,
		FuelType:      strings.TrimSpace(req.FuelType),
		Liters:        req.Liters,
		PricePerLiter: req.PricePerLiter,
		Amount:        lineAmount(req.Liters, req.PricePerLiter),
		CreatedBy:     actorName(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateTransaction(ctx, trx); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The shift closed between lookup and insert.
			return domain.Transaction{}, ErrActiveShiftRequired
		}
		return domain.Transaction{}, err
	}

	s.invalidateReports(ctx, stationID)
	s.logAudit(ctx, stationID, "transaction_create", "transaction", trx.ID,
		fmt.Sprintf("shift=%s,plate=%s,payment=%s,liters=%s,amount=%s", trx.ShiftID, trx.LicensePlate, trx.PaymentType, trx.Liters.String(), trx.Amount.StringFixed(2)))
	return trx, nil
}

func (s *Service) UpdateTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (domain.Transaction, error) {
	if err := s.check(req); err != nil {
		return domain.Transaction{}, err
	}
	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing.IsVoided {
		return domain.Transaction{}, ErrTransactionVoided
	}
	if _, err := s.guardShift(ctx, existing.ShiftID); err != nil {
		return domain.Transaction{}, err
	}

	updated := *existing
	if req.LicensePlate != nil {
		updated.LicensePlate = normalizePlate(*req.LicensePlate)
	}
	if req.OwnerName != nil {
		updated.OwnerName = strings.TrimSpace(*req.OwnerName)
	}
	if req.PaymentType != nil {
		updated.PaymentType = *req.PaymentType
	}
	if req.Liters.Valid {
		updated.Liters = req.Liters.Decimal
	}
	if req.PricePerLiter.Valid {
		updated.PricePerLiter = req.PricePerLiter.Decimal
	}
	if updated.LicensePlate == "" {
		return domain.Transaction{}, fmt.Errorf("%w: license plate is required", store.ErrInvalidInput)
	}
	if err := checkSale(updated.PaymentType, updated.Liters, updated.PricePerLiter); err != nil {
		return domain.Transaction{}, err
	}
	updated.Amount = lineAmount(updated.Liters, updated.PricePerLiter)
	updated.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateTransaction(ctx, updated); err != nil {
		return domain.Transaction{}, err
	}

	s.invalidateReports(ctx, updated.StationID)
	s.logAudit(ctx, updated.StationID, "transaction_update", "transaction", updated.ID,
		fmt.Sprintf("amount=%s->%s,liters=%s->%s", existing.Amount.StringFixed(2), updated.Amount.StringFixed(2), existing.Liters.String(), updated.Liters.String()))
	return updated, nil
}

func (s *Service) VoidTransaction(ctx context.Context, id string, req domain.VoidTransactionRequest) (domain.Transaction, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.check(req); err != nil {
		return domain.Transaction{}, err
	}
	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing.IsVoided {
		return domain.Transaction{}, ErrTransactionVoided
	}
	sh, err := s.guardShift(ctx, existing.ShiftID)
	if err != nil {
		return domain.Transaction{}, err
	}

	voided := *existing
	voided.IsVoided = true
	voided.VoidReason = req.Reason
	voided.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateTransaction(ctx, voided); err != nil {
		return domain.Transaction{}, err
	}

	s.invalidateReports(ctx, voided.StationID)
	s.logAudit(ctx, voided.StationID, "transaction_void", "transaction", voided.ID,
		fmt.Sprintf("shift=%s,status=%s,amount=%s,reason=%s", sh.ID, sh.Status, voided.Amount.StringFixed(2), voided.VoidReason))
	if sh.Status != domain.ShiftStatusOpen {
		s.logger.Info("transaction voided after shift close",
			zap.String("transaction_id", voided.ID),
			zap.String("shift_id", sh.ID),
			zap.String("shift_status", string(sh.Status)),
		)
	}
	return voided, nil
}

func (s *Service) RecordSupply(ctx context.Context, req domain.SupplyCreateRequest) (domain.Supply, error) {
	if !isAdmin(ctx) {
		return domain.Supply{}, ErrAdminRequired
	}
	if err := s.check(req); err != nil {
		return domain.Supply{}, err
	}
	if !req.Liters.IsPositive() {
		return domain.Supply{}, fmt.Errorf("%w: liters must be positive", store.ErrInvalidInput)
	}
	if req.TankNumber != 0 {
		if err := s.machine.Gauges().CheckTank(req.TankNumber); err != nil {
			return domain.Supply{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
	}

	stationID := defaultString(strings.TrimSpace(req.StationID), s.defaultStationID)
	now := s.now().UTC()
	dateKey := defaultString(strings.TrimSpace(req.DateKey), datekey.FromTime(now))
	if err := datekey.Validate(dateKey); err != nil {
		return domain.Supply{}, err
	}

	var boundShift string
	active, err := s.activeShift(ctx, stationID, dateKey)
	switch {
	case err == nil:
		boundShift = active.ID
	case !errors.Is(err, store.ErrNotFound):
		return domain.Supply{}, err
	}

	supply := domain.Supply{
		ID:         xid.New("sup"),
		StationID:  stationID,
		DateKey:    dateKey,
		ShiftID:    boundShift,
		TankNumber: req.TankNumber,
		Liters:     req.Liters,
		Reference:  strings.TrimSpace(req.Reference),
		RecordedBy: actorName(ctx),
		CreatedAt:  now,
	}
	if err := s.repo.CreateSupply(ctx, supply); err != nil {
		return domain.Supply{}, err
	}

	s.invalidateReports(ctx, stationID)
	s.logAudit(ctx, stationID, "supply_create", "supply", supply.ID,
		fmt.Sprintf("date=%s,tank=%d,liters=%s,ref=%s", dateKey, supply.TankNumber, supply.Liters.String(), supply.Reference))
	return supply, nil
}

func checkSale(payment domain.PaymentType, liters decimal.Decimal, price decimal.Decimal) error {
	if !payment.Valid() {
		return fmt.Errorf("%w: unsupported payment type %q", store.ErrInvalidInput, payment)
	}
	if !liters.IsPositive() {
		return fmt.Errorf("%w: liters must be positive", store.ErrInvalidInput)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price per liter must be positive", store.ErrInvalidInput)
	}
	return nil
}

func lineAmount(liters decimal.Decimal, price decimal.Decimal) decimal.Decimal {
	return liters.Mul(price).Round(2)
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), " "))
}
