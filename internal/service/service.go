package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/cache"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/datekey"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/shift"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/xid"
)

var (
	ErrActiveShiftRequired = errors.New("active shift required")
	ErrAdminRequired       = errors.New("admin role required")
	ErrTransactionVoided   = errors.New("transaction already voided")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// isAdmin turns the caller's role into the admin override capability that the
// shift machine understands.
func isAdmin(ctx context.Context) bool {
	actor, ok := ActorFromContext(ctx)
	return ok && actor.Role == domain.RoleAdmin
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

type Service struct {
	repo             store.Repository
	machine          *shift.Machine
	reports          cache.ReportCache
	locker           cache.Locker
	logger           *zap.Logger
	validate         *validator.Validate
	defaultStationID string
	reportTTL        time.Duration
	openLockTTL      time.Duration
	now              func() time.Time
}

type Option func(*Service)

func WithReportCache(c cache.ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.reports = c
		}
		if ttl > 0 {
			s.reportTTL = ttl
		}
	}
}

func WithLocker(l cache.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		if ttl > 0 {
			s.openLockTTL = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, machine *shift.Machine, defaultStationID string, opts ...Option) *Service {
	if defaultStationID == "" {
		defaultStationID = "main-station"
	}

	s := &Service{
		repo:             repo,
		machine:          machine,
		reports:          cache.NoopReportCache{},
		locker:           cache.NewLocalLocker(),
		logger:           zap.NewNop(),
		validate:         validator.New(),
		defaultStationID: defaultStationID,
		reportTTL:        5 * time.Minute,
		openLockTTL:      10 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Machine() *shift.Machine {
	return s.machine
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	stationID := defaultString(strings.TrimSpace(req.StationID), s.defaultStationID)
	dateKey := strings.TrimSpace(req.DateKey)
	if dateKey == "" {
		dateKey = datekey.FromTime(s.now())
	}
	if err := datekey.Validate(dateKey); err != nil {
		return domain.ShiftResponse{}, err
	}

	lock, err := s.locker.Obtain(ctx, "shift-open:"+stationID+":"+dateKey, s.openLockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			return domain.ShiftResponse{}, fmt.Errorf("%w: another open is in progress for %s", shift.ErrShiftAlreadyOpen, dateKey)
		}
		return domain.ShiftResponse{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release open lock", zap.String("station_id", stationID), zap.Error(err))
		}
	}()

	existing, err := s.repo.ListShifts(ctx, stationID, dateKey)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	prior, err := s.carryOver(ctx, stationID, existing, req.ShiftNumber)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	opened, err := s.machine.Open(shift.OpenParams{
		StationID:   stationID,
		DateKey:     dateKey,
		ShiftNumber: req.ShiftNumber,
		StaffName:   req.StaffName,
		OpenedBy:    actorName(ctx),
		StartMeters: req.StartMeters,
		StartGauges: req.StartGauges,
		Prior:       prior,
	}, existing)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	if err := s.repo.CreateShift(ctx, opened.Shift, opened.Meters, opened.Gauges); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ShiftResponse{}, shift.ErrShiftAlreadyOpen
		}
		return domain.ShiftResponse{}, err
	}

	s.invalidateReports(ctx, stationID)
	s.logAudit(ctx, stationID, "shift_open", "shift", opened.Shift.ID,
		fmt.Sprintf("date=%s,number=%d,carry_over=%s,opening_stock=%s", dateKey, opened.Shift.ShiftNumber, opened.Shift.CarryOverFromShiftID, opened.Shift.OpeningStock.String()))
	s.logger.Info("shift opened",
		zap.String("shift_id", opened.Shift.ID),
		zap.String("station_id", stationID),
		zap.String("date_key", dateKey),
		zap.Int("shift_number", opened.Shift.ShiftNumber),
		zap.Bool("carried_over", prior != nil),
	)

	return domain.ShiftResponse{Shift: opened.Shift, Meters: opened.Meters, Gauges: opened.Gauges}, nil
}

// carryOver finds the closed shift whose end readings seed the new one: the
// previous shift of the same day, otherwise the station's latest closed shift.
func (s *Service) carryOver(ctx context.Context, stationID string, existing []domain.Shift, shiftNumber int) (*shift.Carry, error) {
	source, ok := shift.PriorShift(existing, shiftNumber)
	if !ok {
		latest, err := s.repo.LatestClosedShift(ctx, stationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		source = *latest
	}

	meters, err := s.repo.ListMeterReadings(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	gauges, err := s.repo.ListGaugeReadings(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	return &shift.Carry{Shift: source, Meters: meters, Gauges: gauges}, nil
}

func (s *Service) RecordStartMeters(ctx context.Context, shiftID string, req domain.StartMetersRequest) (domain.ShiftResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	current, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	meters, err := s.repo.ListMeterReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	updated, err := s.machine.ApplyStartMeters(*current, meters, req.Meters)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if err := s.repo.SaveStartMeters(ctx, shiftID, updated); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ShiftResponse{}, shift.ErrShiftNotOpen
		}
		return domain.ShiftResponse{}, err
	}

	gauges, err := s.repo.ListGaugeReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	s.logAudit(ctx, current.StationID, "shift_start_meters", "shift", shiftID, fmt.Sprintf("nozzles=%d", len(req.Meters)))
	return domain.ShiftResponse{Shift: *current, Meters: updated, Gauges: gauges}, nil
}

func (s *Service) RecordStartGauges(ctx context.Context, shiftID string, req domain.StartGaugesRequest) (domain.ShiftResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	current, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	gauges, err := s.repo.ListGaugeReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	updated, starts, err := s.machine.ApplyStartGauges(*current, gauges, req.Gauges)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if err := s.repo.SaveStartGauges(ctx, updated, starts); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ShiftResponse{}, shift.ErrShiftNotOpen
		}
		return domain.ShiftResponse{}, err
	}

	meters, err := s.repo.ListMeterReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	s.invalidateReports(ctx, current.StationID)
	s.logAudit(ctx, current.StationID, "shift_start_gauges", "shift", shiftID,
		fmt.Sprintf("tanks=%d,opening_stock=%s", len(req.Gauges), updated.OpeningStock.String()))
	return domain.ShiftResponse{Shift: updated, Meters: meters, Gauges: starts}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	var (
		current *domain.Shift
		closed  shift.Closed
		err     error
	)
	for attempt := 1; ; attempt++ {
		current, closed, err = s.closeOnce(ctx, req)
		if !errors.Is(err, store.ErrStale) {
			break
		}
		if attempt >= closeAttempts {
			return domain.ShiftCloseResponse{}, fmt.Errorf("close shift %s: %w", req.ShiftID, err)
		}
		s.logger.Info("shift transactions changed during close, retrying",
			zap.String("shift_id", req.ShiftID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	gauges, err := s.repo.ListGaugeReadings(ctx, current.ID)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	s.invalidateReports(ctx, current.StationID)
	snap := closed.Snapshot
	s.logAudit(ctx, current.StationID, "shift_close", "shift", current.ID,
		fmt.Sprintf("variance=%s,status=%s,meter_sold=%s,tx_liters=%s", snap.Variance.StringFixed(2), snap.VarianceStatus, snap.MeterSold.String(), snap.TransactionLiters.String()))
	if len(closed.Warnings) > 0 {
		s.logger.Warn("shift closed with warnings",
			zap.String("shift_id", current.ID),
			zap.String("station_id", current.StationID),
			zap.Strings("warnings", closed.Warnings),
		)
	} else {
		s.logger.Info("shift closed", zap.String("shift_id", current.ID), zap.String("station_id", current.StationID))
	}

	warnings := closed.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return domain.ShiftCloseResponse{
		Shift:    closed.Shift,
		Meters:   closed.Meters,
		Gauges:   gauges,
		Snapshot: snap,
		Warnings: warnings,
	}, nil
}

// closeAttempts bounds how often a close is recomputed when sales land on the
// shift between totalling and persisting.
const closeAttempts = 3

// closeOnce totals the shift's transactions, runs the close and persists it.
// The store rejects the write with ErrStale if the totals moved in between.
func (s *Service) closeOnce(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, shift.Closed, error) {
	current, err := s.repo.GetShift(ctx, req.ShiftID)
	if err != nil {
		return nil, shift.Closed{}, err
	}
	startMeters, err := s.repo.ListMeterReadings(ctx, current.ID)
	if err != nil {
		return nil, shift.Closed{}, err
	}
	transactions, err := s.repo.ListTransactionsByShift(ctx, current.ID)
	if err != nil {
		return nil, shift.Closed{}, err
	}
	totals := store.SumTransactions(transactions)

	closed, err := s.machine.Close(shift.CloseParams{
		Shift:               *current,
		StartMeters:         startMeters,
		EndMeters:           req.EndMeters,
		EndGauges:           req.EndGauges,
		Received:            req.Received,
		ExpectedFuelAmount:  totals.Amount,
		ExpectedOtherAmount: req.ExpectedOtherAmount,
		TransactionLiters:   totals.Liters,
		ClosedBy:            actorName(ctx),
	})
	if err != nil {
		return nil, shift.Closed{}, err
	}

	err = s.repo.CloseShift(ctx, store.ShiftClosing{
		Shift:    closed.Shift,
		Meters:   closed.Meters,
		Gauges:   closed.Gauges,
		Snapshot: closed.Snapshot,
		Totals:   totals,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, shift.Closed{}, shift.ErrShiftNotOpen
		}
		return nil, shift.Closed{}, err
	}
	return current, closed, nil
}

func (s *Service) GetActiveShift(ctx context.Context, stationID string, dateKey string) (domain.ShiftResponse, error) {
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	dateKey = defaultString(strings.TrimSpace(dateKey), datekey.FromTime(s.now()))
	if err := datekey.Validate(dateKey); err != nil {
		return domain.ShiftResponse{}, err
	}

	active, err := s.activeShift(ctx, stationID, dateKey)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	meters, err := s.repo.ListMeterReadings(ctx, active.ID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	gauges, err := s.repo.ListGaugeReadings(ctx, active.ID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: active, Meters: meters, Gauges: gauges}, nil
}

func (s *Service) activeShift(ctx context.Context, stationID string, dateKey string) (domain.Shift, error) {
	shifts, err := s.repo.ListShifts(ctx, stationID, dateKey)
	if err != nil {
		return domain.Shift{}, err
	}
	for _, sh := range shifts {
		if sh.Status == domain.ShiftStatusOpen {
			return sh, nil
		}
	}
	return domain.Shift{}, fmt.Errorf("%w: no open shift for %s", store.ErrNotFound, dateKey)
}

func (s *Service) ListShifts(ctx context.Context, stationID string, dateKey string) ([]domain.Shift, error) {
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	dateKey = defaultString(strings.TrimSpace(dateKey), datekey.FromTime(s.now()))
	if err := datekey.Validate(dateKey); err != nil {
		return nil, err
	}

	shifts, err := s.repo.ListShifts(ctx, stationID, dateKey)
	if err != nil {
		return nil, err
	}
	for i := range shifts {
		shifts[i] = s.settleLock(ctx, shifts[i])
	}
	return shifts, nil
}

func (s *Service) GetShiftDetail(ctx context.Context, shiftID string) (domain.ShiftDetail, error) {
	found, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftDetail{}, err
	}
	current := s.settleLock(ctx, *found)

	meters, err := s.repo.ListMeterReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftDetail{}, err
	}
	gauges, err := s.repo.ListGaugeReadings(ctx, shiftID)
	if err != nil {
		return domain.ShiftDetail{}, err
	}
	transactions, err := s.repo.ListTransactionsByShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftDetail{}, err
	}

	detail := domain.ShiftDetail{
		Shift:        current,
		Meters:       meters,
		Gauges:       gauges,
		Transactions: transactions,
		Editable:     s.machine.CanMutate(current, isAdmin(ctx)) == nil,
	}
	snapshot, err := s.repo.GetSnapshot(ctx, shiftID)
	switch {
	case err == nil:
		detail.Snapshot = snapshot
	case !errors.Is(err, store.ErrNotFound):
		return domain.ShiftDetail{}, err
	}
	return detail, nil
}

// settleLock persists LOCKED for a closed shift past the threshold. A failed
// write is logged; the returned shift still reports LOCKED.
func (s *Service) settleLock(ctx context.Context, sh domain.Shift) domain.Shift {
	locked, changed := s.machine.Lock(sh)
	if !changed {
		return sh
	}
	if err := s.repo.LockShift(ctx, sh.ID, *locked.LockedAt); err != nil {
		s.logger.Warn("persist shift lock", zap.String("shift_id", sh.ID), zap.Error(err))
		return locked
	}
	s.logAudit(ctx, sh.StationID, "shift_lock", "shift", sh.ID, "lock threshold elapsed")
	return locked
}

// guardShift is the single gate in front of every change to a shift's data.
func (s *Service) guardShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	found, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	current := s.settleLock(ctx, *found)
	if err := s.machine.CanMutate(current, isAdmin(ctx)); err != nil {
		return domain.Shift{}, err
	}
	return current, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, stationID string, dateKey string, limit int) ([]domain.AuditLog, error) {
	stationID = defaultString(strings.TrimSpace(stationID), s.defaultStationID)
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var from, to time.Time
	if strings.TrimSpace(dateKey) == "" {
		to = s.now().UTC()
		from = to.Add(-24 * time.Hour)
	} else {
		var err error
		from, to, err = datekey.UTCRange(dateKey)
		if err != nil {
			return nil, err
		}
	}
	return s.repo.ListAuditLogs(ctx, stationID, from, to, limit)
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) invalidateReports(ctx context.Context, stationID string) {
	if err := s.reports.Bump(ctx, stationID); err != nil {
		s.logger.Warn("bump report revision", zap.String("station_id", stationID), zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, stationID string, action string, entityType string, entityID string, detail string) {
	if stationID == "" {
		stationID = s.defaultStationID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StationID:     stationID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
