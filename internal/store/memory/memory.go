package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/domain"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	shiftsByID       map[string]domain.Shift
	openShiftByKey   map[string]string
	metersByShift    map[string][]domain.MeterReading
	gauges           []domain.GaugeReading
	transactionsByID map[string]domain.Transaction
	supplies         []domain.Supply
	snapshotsByShift map[string]domain.ReconciliationSnapshot
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD, falling back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		shiftsByID:       make(map[string]domain.Shift),
		openShiftByKey:   make(map[string]string),
		metersByShift:    make(map[string][]domain.MeterReading),
		gauges:           make([]domain.GaugeReading, 0, 64),
		transactionsByID: make(map[string]domain.Transaction),
		supplies:         make([]domain.Supply, 0, 16),
		snapshotsByShift: make(map[string]domain.ReconciliationSnapshot),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func shiftKey(stationID string, dateKey string) string {
	return stationID + "|" + dateKey
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift, meters []domain.MeterReading, gauges []domain.GaugeReading) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StationID) == "" || shift.DateKey == "" {
		return store.ErrInvalidInput
	}
	if shift.Status != domain.ShiftStatusOpen {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.StationID, shift.DateKey)
	if _, exists := s.openShiftByKey[key]; exists {
		return store.ErrConflict
	}
	if _, exists := s.shiftsByID[shift.ID]; exists {
		return store.ErrConflict
	}
	for _, existing := range s.shiftsByID {
		if existing.StationID == shift.StationID && existing.DateKey == shift.DateKey && existing.ShiftNumber == shift.ShiftNumber {
			return store.ErrConflict
		}
	}

	s.shiftsByID[shift.ID] = shift
	s.openShiftByKey[key] = shift.ID
	s.metersByShift[shift.ID] = slices.Clone(meters)
	s.gauges = append(s.gauges, gauges...)
	return nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) ListShifts(ctx context.Context, stationID string, dateKey string) ([]domain.Shift, error) {
	return s.ListShiftsInRange(ctx, stationID, dateKey, dateKey)
}

func (s *Store) ListShiftsInRange(_ context.Context, stationID string, fromKey string, toKey string) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 8)
	for _, shift := range s.shiftsByID {
		if shift.StationID != stationID || shift.DateKey < fromKey || shift.DateKey > toKey {
			continue
		}
		result = append(result, shift)
	}
	slices.SortFunc(result, func(a, b domain.Shift) int {
		if a.DateKey != b.DateKey {
			return strings.Compare(a.DateKey, b.DateKey)
		}
		return a.ShiftNumber - b.ShiftNumber
	})
	return result, nil
}

func (s *Store) LatestClosedShift(_ context.Context, stationID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Shift
	for _, shift := range s.shiftsByID {
		if shift.StationID != stationID || shift.Status == domain.ShiftStatusOpen || shift.ClosedAt == nil {
			continue
		}
		if latest == nil || shift.ClosedAt.After(*latest.ClosedAt) {
			candidate := shift
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) CloseShift(_ context.Context, closing store.ShiftClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shiftsByID[closing.Shift.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != domain.ShiftStatusOpen || closing.Shift.Status != domain.ShiftStatusClosed {
		return store.ErrConflict
	}
	bound := make([]domain.Transaction, 0, closing.Totals.Count)
	for _, tx := range s.transactionsByID {
		if tx.ShiftID == current.ID {
			bound = append(bound, tx)
		}
	}
	if !store.SumTransactions(bound).Equal(closing.Totals) {
		return store.ErrStale
	}

	s.shiftsByID[current.ID] = closing.Shift
	delete(s.openShiftByKey, shiftKey(current.StationID, current.DateKey))
	s.metersByShift[current.ID] = slices.Clone(closing.Meters)
	s.gauges = append(s.gauges, closing.Gauges...)
	s.snapshotsByShift[current.ID] = closing.Snapshot
	return nil
}

func (s *Store) LockShift(_ context.Context, id string, lockedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	switch shift.Status {
	case domain.ShiftStatusLocked:
		return nil
	case domain.ShiftStatusClosed:
		at := lockedAt.UTC()
		shift.Status = domain.ShiftStatusLocked
		shift.LockedAt = &at
		s.shiftsByID[id] = shift
		return nil
	default:
		return store.ErrConflict
	}
}

func (s *Store) ListMeterReadings(_ context.Context, shiftID string) ([]domain.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := slices.Clone(s.metersByShift[shiftID])
	slices.SortFunc(readings, func(a, b domain.MeterReading) int {
		return a.NozzleNumber - b.NozzleNumber
	})
	return readings, nil
}

func (s *Store) SaveStartMeters(_ context.Context, shiftID string, readings []domain.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return store.ErrConflict
	}
	s.metersByShift[shiftID] = slices.Clone(readings)
	return nil
}

func (s *Store) ListGaugeReadings(_ context.Context, shiftID string) ([]domain.GaugeReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GaugeReading, 0, 8)
	for _, g := range s.gauges {
		if g.ShiftID == shiftID {
			result = append(result, g)
		}
	}
	sortGauges(result)
	return result, nil
}

func (s *Store) ListGaugeReadingsByDate(_ context.Context, stationID string, dateKey string) ([]domain.GaugeReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GaugeReading, 0, 16)
	for _, g := range s.gauges {
		if g.StationID == stationID && g.DateKey == dateKey {
			result = append(result, g)
		}
	}
	sortGauges(result)
	return result, nil
}

func sortGauges(list []domain.GaugeReading) {
	slices.SortStableFunc(list, func(a, b domain.GaugeReading) int {
		if a.TankNumber != b.TankNumber {
			return a.TankNumber - b.TankNumber
		}
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.Compare(b.RecordedAt)
		}
		return strings.Compare(string(b.Type), string(a.Type))
	})
}

func (s *Store) SaveStartGauges(_ context.Context, shift domain.Shift, readings []domain.GaugeReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shiftsByID[shift.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != domain.ShiftStatusOpen {
		return store.ErrConflict
	}

	kept := s.gauges[:0:0]
	for _, g := range s.gauges {
		if g.ShiftID == shift.ID && g.Type == domain.PhaseStart {
			continue
		}
		kept = append(kept, g)
	}
	s.gauges = append(kept, readings...)
	current.OpeningStock = shift.OpeningStock
	s.shiftsByID[shift.ID] = current
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	if strings.TrimSpace(tx.ID) == "" || strings.TrimSpace(tx.ShiftID) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[tx.ID]; exists {
		return store.ErrConflict
	}
	shift, ok := s.shiftsByID[tx.ShiftID]
	if !ok {
		return store.ErrNotFound
	}
	// Transactions only ever attach to the shift that is open at write time.
	if shift.Status != domain.ShiftStatusOpen {
		return store.ErrConflict
	}
	s.transactionsByID[tx.ID] = tx
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactionsByID[tx.ID]; !ok {
		return store.ErrNotFound
	}
	s.transactionsByID[tx.ID] = tx
	return nil
}

func (s *Store) ListTransactionsByShift(_ context.Context, shiftID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.ShiftID == shiftID {
			result = append(result, tx)
		}
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) ListTransactionsInRange(_ context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.StationID != stationID || tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		result = append(result, tx)
	}
	sortTransactions(result)
	return result, nil
}

func sortTransactions(list []domain.Transaction) {
	slices.SortFunc(list, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func (s *Store) CreateSupply(_ context.Context, supply domain.Supply) error {
	if strings.TrimSpace(supply.ID) == "" || strings.TrimSpace(supply.StationID) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.supplies = append(s.supplies, supply)
	return nil
}

func (s *Store) ListSupplies(_ context.Context, stationID string, fromKey string, toKey string) ([]domain.Supply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supply, 0, 8)
	for _, supply := range s.supplies {
		if supply.StationID != stationID || supply.DateKey < fromKey || supply.DateKey > toKey {
			continue
		}
		result = append(result, supply)
	}
	return result, nil
}

func (s *Store) GetSnapshot(_ context.Context, shiftID string) (*domain.ReconciliationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshotsByShift[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snapshot, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if stationID != "" && entry.StationID != stationID {
			continue
		}
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
