package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const shiftColumns = `
	id, station_id, date_key, shift_number, status, staff_name, opened_at, closed_at, locked_at,
	opening_stock, closing_stock, COALESCE(carry_over_from_shift_id, '') AS carry_over_from_shift_id,
	opened_by, closed_by`

const meterColumns = `shift_id, nozzle_number, start_reading, end_reading, sold_qty, start_photo_url, end_photo_url`

const gaugeColumns = `id, station_id, shift_id, date_key, tank_number, type, percentage, photo_url, recorded_at`

const transactionColumns = `
	id, station_id, shift_id, date_key, license_plate, owner_name, payment_type, fuel_type,
	liters, price_per_liter, amount, is_voided, void_reason, created_by, created_at, updated_at`

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift, meters []domain.MeterReading, gauges []domain.GaugeReading) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StationID) == "" || shift.DateKey == "" {
		return store.ErrInvalidInput
	}
	if shift.Status != domain.ShiftStatusOpen {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO shifts (
			id, station_id, date_key, shift_number, status, staff_name, opened_at,
			opening_stock, carry_over_from_shift_id, opened_by, closed_by
		) VALUES (
			:id, :station_id, :date_key, :shift_number, :status, :staff_name, :opened_at,
			:opening_stock, NULLIF(:carry_over_from_shift_id, ''), :opened_by, :closed_by
		)
	`, shift)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert shift: %w", err)
	}

	if err := insertMeters(ctx, tx, meters); err != nil {
		return err
	}
	if err := insertGauges(ctx, tx, gauges); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	var shift domain.Shift
	err := s.db.GetContext(ctx, &shift, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return normalizeShift(shift), nil
}

func (s *Store) ListShifts(ctx context.Context, stationID string, dateKey string) ([]domain.Shift, error) {
	return s.ListShiftsInRange(ctx, stationID, dateKey, dateKey)
}

func (s *Store) ListShiftsInRange(ctx context.Context, stationID string, fromKey string, toKey string) ([]domain.Shift, error) {
	shifts := make([]domain.Shift, 0, 8)
	err := s.db.SelectContext(ctx, &shifts, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE station_id = $1 AND date_key BETWEEN $2 AND $3
		ORDER BY date_key, shift_number
	`, stationID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	for i := range shifts {
		shifts[i] = *normalizeShift(shifts[i])
	}
	return shifts, nil
}

func (s *Store) LatestClosedShift(ctx context.Context, stationID string) (*domain.Shift, error) {
	var shift domain.Shift
	err := s.db.GetContext(ctx, &shift, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE station_id = $1 AND status <> 'OPEN' AND closed_at IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT 1
	`, stationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return normalizeShift(shift), nil
}

func (s *Store) CloseShift(ctx context.Context, closing store.ShiftClosing) error {
	shift := closing.Shift
	if shift.Status != domain.ShiftStatusClosed || shift.ClosedAt == nil {
		return store.ErrConflict
	}

	payload, err := json.Marshal(closing.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// FOR UPDATE waits out in-flight inserts holding FOR SHARE and blocks new
	// ones until commit, so the totals below are final for this shift.
	if err := requireOpen(ctx, tx, shift.ID); err != nil {
		return err
	}
	var totals store.TransactionTotals
	err = tx.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(liters), 0) AS liters
		FROM transactions
		WHERE shift_id = $1 AND NOT is_voided
	`, shift.ID)
	if err != nil {
		return fmt.Errorf("total transactions: %w", err)
	}
	if !totals.Equal(closing.Totals) {
		return store.ErrStale
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE shifts
		SET status = 'CLOSED', closed_at = $2, closing_stock = $3, closed_by = $4
		WHERE id = $1 AND status = 'OPEN'
	`, shift.ID, shift.ClosedAt.UTC(), shift.ClosingStock, shift.ClosedBy)
	if err != nil {
		return fmt.Errorf("close shift: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := shiftStatus(ctx, tx, shift.ID); err != nil {
			return err
		}
		return store.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM meter_readings WHERE shift_id = $1`, shift.ID); err != nil {
		return err
	}
	if err := insertMeters(ctx, tx, closing.Meters); err != nil {
		return err
	}
	if err := insertGauges(ctx, tx, closing.Gauges); err != nil {
		return err
	}

	snap := closing.Snapshot
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reconciliation_snapshots (shift_id, station_id, date_key, variance, variance_status, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, shift.ID, shift.StationID, shift.DateKey, snap.Variance, snap.VarianceStatus, payload, snapshotTime(snap, *shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}

	return tx.Commit()
}

func (s *Store) LockShift(ctx context.Context, id string, lockedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts SET status = 'LOCKED', locked_at = $2
		WHERE id = $1 AND status = 'CLOSED'
	`, id, lockedAt.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	status, err := shiftStatus(ctx, s.db, id)
	if err != nil {
		return err
	}
	if status == domain.ShiftStatusLocked {
		return nil
	}
	return store.ErrConflict
}

func (s *Store) ListMeterReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error) {
	readings := make([]domain.MeterReading, 0, 8)
	err := s.db.SelectContext(ctx, &readings, `
		SELECT `+meterColumns+` FROM meter_readings WHERE shift_id = $1 ORDER BY nozzle_number
	`, shiftID)
	return readings, err
}

func (s *Store) SaveStartMeters(ctx context.Context, shiftID string, readings []domain.MeterReading) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireOpen(ctx, tx, shiftID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meter_readings WHERE shift_id = $1`, shiftID); err != nil {
		return err
	}
	if err := insertMeters(ctx, tx, readings); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListGaugeReadings(ctx context.Context, shiftID string) ([]domain.GaugeReading, error) {
	readings := make([]domain.GaugeReading, 0, 8)
	err := s.db.SelectContext(ctx, &readings, `
		SELECT `+gaugeColumns+`
		FROM gauge_readings
		WHERE shift_id = $1
		ORDER BY tank_number, recorded_at, type DESC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	return normalizeGauges(readings), nil
}

func (s *Store) ListGaugeReadingsByDate(ctx context.Context, stationID string, dateKey string) ([]domain.GaugeReading, error) {
	readings := make([]domain.GaugeReading, 0, 16)
	err := s.db.SelectContext(ctx, &readings, `
		SELECT `+gaugeColumns+`
		FROM gauge_readings
		WHERE station_id = $1 AND date_key = $2
		ORDER BY tank_number, recorded_at, type DESC
	`, stationID, dateKey)
	if err != nil {
		return nil, err
	}
	return normalizeGauges(readings), nil
}

func (s *Store) SaveStartGauges(ctx context.Context, shift domain.Shift, readings []domain.GaugeReading) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireOpen(ctx, tx, shift.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM gauge_readings WHERE shift_id = $1 AND type = 'START'`, shift.ID); err != nil {
		return err
	}
	if err := insertGauges(ctx, tx, readings); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE shifts SET opening_stock = $2 WHERE id = $1`, shift.ID, shift.OpeningStock); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateTransaction(ctx context.Context, trx domain.Transaction) error {
	if strings.TrimSpace(trx.ID) == "" || strings.TrimSpace(trx.ShiftID) == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// FOR SHARE holds off a concurrent close until this insert commits.
	var status domain.ShiftStatus
	err = tx.GetContext(ctx, &status, `SELECT status FROM shifts WHERE id = $1 FOR SHARE`, trx.ShiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if status != domain.ShiftStatusOpen {
		return store.ErrConflict
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (
			:id, :station_id, :shift_id, :date_key, :license_plate, :owner_name, :payment_type, :fuel_type,
			:liters, :price_per_liter, :amount, :is_voided, :void_reason, :created_by, :created_at, :updated_at
		)
	`, trx)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var trx domain.Transaction
	err := s.db.GetContext(ctx, &trx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeTransaction(&trx)
	return &trx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, trx domain.Transaction) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE transactions
		SET license_plate = :license_plate, owner_name = :owner_name, payment_type = :payment_type,
			fuel_type = :fuel_type, liters = :liters, price_per_liter = :price_per_liter, amount = :amount,
			is_voided = :is_voided, void_reason = :void_reason, updated_at = :updated_at
		WHERE id = :id
	`, trx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactionsByShift(ctx context.Context, shiftID string) ([]domain.Transaction, error) {
	return s.selectTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE shift_id = $1
		ORDER BY created_at, id
	`, shiftID)
}

func (s *Store) ListTransactionsInRange(ctx context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	return s.selectTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE station_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at, id
	`, stationID, from.UTC(), to.UTC())
}

func (s *Store) selectTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	list := make([]domain.Transaction, 0, 32)
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, err
	}
	for i := range list {
		normalizeTransaction(&list[i])
	}
	return list, nil
}

func (s *Store) CreateSupply(ctx context.Context, supply domain.Supply) error {
	if strings.TrimSpace(supply.ID) == "" || strings.TrimSpace(supply.StationID) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO supplies (id, station_id, date_key, shift_id, tank_number, liters, reference, recorded_by, created_at)
		VALUES (:id, :station_id, :date_key, :shift_id, :tank_number, :liters, :reference, :recorded_by, :created_at)
	`, supply)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListSupplies(ctx context.Context, stationID string, fromKey string, toKey string) ([]domain.Supply, error) {
	supplies := make([]domain.Supply, 0, 8)
	err := s.db.SelectContext(ctx, &supplies, `
		SELECT id, station_id, date_key, shift_id, tank_number, liters, reference, recorded_by, created_at
		FROM supplies
		WHERE station_id = $1 AND date_key BETWEEN $2 AND $3
		ORDER BY date_key, created_at
	`, stationID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	for i := range supplies {
		supplies[i].CreatedAt = supplies[i].CreatedAt.UTC()
	}
	return supplies, nil
}

func (s *Store) GetSnapshot(ctx context.Context, shiftID string) (*domain.ReconciliationSnapshot, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM reconciliation_snapshots WHERE shift_id = $1`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var snapshot domain.ReconciliationSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", shiftID, err)
	}
	return &snapshot, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :station_id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}

	logs := make([]domain.AuditLog, 0, limit)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR station_id = $1) AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, stationID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES (:username, :password_hash, :role, :active, :created_at)
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	return users, err
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertMeters(ctx context.Context, tx *sqlx.Tx, meters []domain.MeterReading) error {
	for _, m := range meters {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO meter_readings (`+meterColumns+`)
			VALUES (:shift_id, :nozzle_number, :start_reading, :end_reading, :sold_qty, :start_photo_url, :end_photo_url)
		`, m)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return fmt.Errorf("insert meter reading nozzle %d: %w", m.NozzleNumber, err)
		}
	}
	return nil
}

func insertGauges(ctx context.Context, tx *sqlx.Tx, gauges []domain.GaugeReading) error {
	for _, g := range gauges {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO gauge_readings (`+gaugeColumns+`)
			VALUES (:id, :station_id, :shift_id, :date_key, :tank_number, :type, :percentage, :photo_url, :recorded_at)
		`, g)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return fmt.Errorf("insert gauge reading tank %d: %w", g.TankNumber, err)
		}
	}
	return nil
}

func shiftStatus(ctx context.Context, q sqlx.QueryerContext, id string) (domain.ShiftStatus, error) {
	var status domain.ShiftStatus
	if err := sqlx.GetContext(ctx, q, &status, `SELECT status FROM shifts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func requireOpen(ctx context.Context, tx *sqlx.Tx, shiftID string) error {
	var status domain.ShiftStatus
	err := tx.GetContext(ctx, &status, `SELECT status FROM shifts WHERE id = $1 FOR UPDATE`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if status != domain.ShiftStatusOpen {
		return store.ErrConflict
	}
	return nil
}

func snapshotTime(snap domain.ReconciliationSnapshot, fallback time.Time) time.Time {
	if snap.CreatedAt.IsZero() {
		return fallback.UTC()
	}
	return snap.CreatedAt.UTC()
}

func normalizeShift(shift domain.Shift) *domain.Shift {
	shift.OpenedAt = shift.OpenedAt.UTC()
	if shift.ClosedAt != nil {
		at := shift.ClosedAt.UTC()
		shift.ClosedAt = &at
	}
	if shift.LockedAt != nil {
		at := shift.LockedAt.UTC()
		shift.LockedAt = &at
	}
	return &shift
}

func normalizeGauges(list []domain.GaugeReading) []domain.GaugeReading {
	for i := range list {
		list[i].RecordedAt = list[i].RecordedAt.UTC()
	}
	return list
}

func normalizeTransaction(trx *domain.Transaction) {
	trx.CreatedAt = trx.CreatedAt.UTC()
	trx.UpdatedAt = trx.UpdatedAt.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
