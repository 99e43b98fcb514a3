package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftStatusOpen   ShiftStatus = "OPEN"
	ShiftStatusClosed ShiftStatus = "CLOSED"
	ShiftStatusLocked ShiftStatus = "LOCKED"
)

func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftStatusOpen, ShiftStatusClosed, ShiftStatusLocked:
		return true
	}
	return false
}

type VarianceStatus string

const (
	VarianceOver     VarianceStatus = "OVER"
	VarianceShort    VarianceStatus = "SHORT"
	VarianceBalanced VarianceStatus = "BALANCED"
)

func (s VarianceStatus) Valid() bool {
	switch s {
	case VarianceOver, VarianceShort, VarianceBalanced:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentCash     PaymentType = "CASH"
	PaymentCredit   PaymentType = "CREDIT"
	PaymentCard     PaymentType = "CARD"
	PaymentTransfer PaymentType = "TRANSFER"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentCredit, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

// ReadingPhase tells whether a meter or gauge value was taken at shift start or end.
type ReadingPhase string

const (
	PhaseStart ReadingPhase = "START"
	PhaseEnd   ReadingPhase = "END"
)

func (p ReadingPhase) Valid() bool {
	return p == PhaseStart || p == PhaseEnd
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type Shift struct {
	ID                   string              `json:"id" db:"id"`
	StationID            string              `json:"station_id" db:"station_id"`
	DateKey              string              `json:"date_key" db:"date_key"`
	ShiftNumber          int                 `json:"shift_number" db:"shift_number"`
	Status               ShiftStatus         `json:"status" db:"status"`
	StaffName            string              `json:"staff_name" db:"staff_name"`
	OpenedAt             time.Time           `json:"opened_at" db:"opened_at"`
	ClosedAt             *time.Time          `json:"closed_at,omitempty" db:"closed_at"`
	LockedAt             *time.Time          `json:"locked_at,omitempty" db:"locked_at"`
	OpeningStock         decimal.Decimal     `json:"opening_stock" db:"opening_stock"`
	ClosingStock         decimal.NullDecimal `json:"closing_stock" db:"closing_stock"`
	CarryOverFromShiftID string              `json:"carry_over_from_shift_id,omitempty" db:"carry_over_from_shift_id"`
	OpenedBy             string              `json:"opened_by" db:"opened_by"`
	ClosedBy             string              `json:"closed_by,omitempty" db:"closed_by"`
}

type MeterReading struct {
	ShiftID       string              `json:"shift_id" db:"shift_id"`
	NozzleNumber  int                 `json:"nozzle_number" db:"nozzle_number"`
	StartReading  decimal.NullDecimal `json:"start_reading" db:"start_reading"`
	EndReading    decimal.NullDecimal `json:"end_reading" db:"end_reading"`
	SoldQty       decimal.NullDecimal `json:"sold_qty" db:"sold_qty"`
	StartPhotoURL string              `json:"start_photo_url,omitempty" db:"start_photo_url"`
	EndPhotoURL   string              `json:"end_photo_url,omitempty" db:"end_photo_url"`
}

type GaugeReading struct {
	ID         string              `json:"id" db:"id"`
	StationID  string              `json:"station_id" db:"station_id"`
	ShiftID    string              `json:"shift_id" db:"shift_id"`
	DateKey    string              `json:"date_key" db:"date_key"`
	TankNumber int                 `json:"tank_number" db:"tank_number"`
	Type       ReadingPhase        `json:"type" db:"type"`
	Percentage decimal.NullDecimal `json:"percentage" db:"percentage"`
	PhotoURL   string              `json:"photo_url,omitempty" db:"photo_url"`
	RecordedAt time.Time           `json:"recorded_at" db:"recorded_at"`
}

type Transaction struct {
	ID            string          `json:"id" db:"id"`
	StationID     string          `json:"station_id" db:"station_id"`
	ShiftID       string          `json:"shift_id" db:"shift_id"`
	DateKey       string          `json:"date_key" db:"date_key"`
	LicensePlate  string          `json:"license_plate" db:"license_plate"`
	OwnerName     string          `json:"owner_name,omitempty" db:"owner_name"`
	PaymentType   PaymentType     `json:"payment_type" db:"payment_type"`
	FuelType      string          `json:"fuel_type" db:"fuel_type"`
	Liters        decimal.Decimal `json:"liters" db:"liters"`
	PricePerLiter decimal.Decimal `json:"price_per_liter" db:"price_per_liter"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	IsVoided      bool            `json:"is_voided" db:"is_voided"`
	VoidReason    string          `json:"void_reason,omitempty" db:"void_reason"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Supply is a fuel delivery received into the station's tanks.
type Supply struct {
	ID         string          `json:"id" db:"id"`
	StationID  string          `json:"station_id" db:"station_id"`
	DateKey    string          `json:"date_key" db:"date_key"`
	// ShiftID is the shift that was OPEN for the day when the delivery was
	// recorded, empty if none was.
	ShiftID    string          `json:"shift_id,omitempty" db:"shift_id"`
	TankNumber int             `json:"tank_number,omitempty" db:"tank_number"`
	Liters     decimal.Decimal `json:"liters" db:"liters"`
	Reference  string          `json:"reference,omitempty" db:"reference"`
	RecordedBy string          `json:"recorded_by" db:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type Discrepancy struct {
	HasDiscrepancy bool            `json:"has_discrepancy"`
	Difference     decimal.Decimal `json:"difference"`
	Percentage     decimal.Decimal `json:"percentage"`
}

// Received holds the staff-counted amounts per payment channel.
type Received struct {
	Cash     decimal.Decimal `json:"cash"`
	Credit   decimal.Decimal `json:"credit"`
	Card     decimal.Decimal `json:"card"`
	Transfer decimal.Decimal `json:"transfer"`
}

// ReceivedInput is Received as submitted; a channel left out stays invalid.
type ReceivedInput struct {
	Cash     decimal.NullDecimal `json:"cash"`
	Credit   decimal.NullDecimal `json:"credit"`
	Card     decimal.NullDecimal `json:"card"`
	Transfer decimal.NullDecimal `json:"transfer"`
}

type MoneyVariance struct {
	TotalExpected      decimal.Decimal `json:"total_expected"`
	TotalReceived      decimal.Decimal `json:"total_received"`
	Variance           decimal.Decimal `json:"variance"`
	VarianceStatus     VarianceStatus  `json:"variance_status"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
}

type ReconciliationSnapshot struct {
	ShiftID             string          `json:"shift_id"`
	StationID           string          `json:"station_id"`
	DateKey             string          `json:"date_key"`
	ExpectedFuelAmount  decimal.Decimal `json:"expected_fuel_amount"`
	ExpectedOtherAmount decimal.Decimal `json:"expected_other_amount"`
	Received            Received        `json:"received"`
	MoneyVariance
	MeterSold         decimal.Decimal `json:"meter_sold"`
	TransactionLiters decimal.Decimal `json:"transaction_liters"`
	Discrepancy       Discrepancy     `json:"discrepancy"`
	ClosingStock      decimal.Decimal `json:"closing_stock"`
	CreatedAt         time.Time       `json:"created_at"`
}

type StockPeriod struct {
	Opening       decimal.Decimal `json:"opening"`
	Supplies      decimal.Decimal `json:"supplies"`
	Sales         decimal.Decimal `json:"sales"`
	ActualClosing decimal.Decimal `json:"actual_closing"`
}

type StockBalance struct {
	Opening         decimal.Decimal `json:"opening"`
	Supplies        decimal.Decimal `json:"supplies"`
	Sales           decimal.Decimal `json:"sales"`
	ExpectedClosing decimal.Decimal `json:"expected_closing"`
	ActualClosing   decimal.Decimal `json:"actual_closing"`
	Variance        decimal.Decimal `json:"variance"`
	VariancePercent decimal.Decimal `json:"variance_percent"`
	IsBalanced      bool            `json:"is_balanced"`
}

type TankUsage struct {
	TankNumber   int             `json:"tank_number"`
	FirstPercent decimal.Decimal `json:"first_percent"`
	LastPercent  decimal.Decimal `json:"last_percent"`
	UsedLiters   decimal.Decimal `json:"used_liters"`
}

type GaugeComparison struct {
	Tanks             []TankUsage     `json:"tanks"`
	UsedLiters        decimal.Decimal `json:"used_liters"`
	MeterSold         decimal.Decimal `json:"meter_sold"`
	Difference        decimal.Decimal `json:"difference"`
	DifferencePercent decimal.Decimal `json:"difference_percent"`
	Abnormal          bool            `json:"abnormal"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	StationID     string    `json:"station_id" db:"station_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}
