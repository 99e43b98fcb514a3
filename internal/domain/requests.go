package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MeterValue is one nozzle counter as entered by staff.
type MeterValue struct {
	NozzleNumber int                 `json:"nozzle_number"`
	Value        decimal.NullDecimal `json:"value"`
	PhotoURL     string              `json:"photo_url,omitempty"`
}

type GaugeValue struct {
	TankNumber int                 `json:"tank_number"`
	Percentage decimal.NullDecimal `json:"percentage"`
	PhotoURL   string              `json:"photo_url,omitempty"`
}

type ShiftOpenRequest struct {
	StationID   string       `json:"station_id"`
	DateKey     string       `json:"date_key"`
	ShiftNumber int          `json:"shift_number" validate:"required,min=1"`
	StaffName   string       `json:"staff_name" validate:"required,max=120"`
	StartMeters []MeterValue `json:"start_meters,omitempty"`
	StartGauges []GaugeValue `json:"start_gauges,omitempty"`
}

type ShiftCloseRequest struct {
	ShiftID             string          `json:"shift_id" validate:"required"`
	EndMeters           []MeterValue    `json:"end_meters"`
	EndGauges           []GaugeValue    `json:"end_gauges"`
	Received            ReceivedInput   `json:"received"`
	ExpectedOtherAmount decimal.Decimal `json:"expected_other_amount"`
}

type StartMetersRequest struct {
	Meters []MeterValue `json:"meters" validate:"required,min=1"`
}

type StartGaugesRequest struct {
	Gauges []GaugeValue `json:"gauges" validate:"required,min=1"`
}

type ShiftResponse struct {
	Shift  Shift          `json:"shift"`
	Meters []MeterReading `json:"meters"`
	Gauges []GaugeReading `json:"gauges"`
}

type ShiftCloseResponse struct {
	Shift    Shift                  `json:"shift"`
	Meters   []MeterReading         `json:"meters"`
	Gauges   []GaugeReading         `json:"gauges"`
	Snapshot ReconciliationSnapshot `json:"snapshot"`
	Warnings []string               `json:"warnings"`
}

type ShiftDetail struct {
	Shift        Shift                   `json:"shift"`
	Meters       []MeterReading          `json:"meters"`
	Gauges       []GaugeReading          `json:"gauges"`
	Transactions []Transaction           `json:"transactions"`
	Snapshot     *ReconciliationSnapshot `json:"snapshot,omitempty"`
	Editable     bool                    `json:"editable"`
}

type TransactionCreateRequest struct {
	StationID     string          `json:"station_id"`
	LicensePlate  string          `json:"license_plate" validate:"required,max=20"`
	OwnerName     string          `json:"owner_name" validate:"max=120"`
	PaymentType   PaymentType     `json:"payment_type" validate:"required"`
	FuelType      string          `json:"fuel_type" validate:"required,max=40"`
	Liters        decimal.Decimal `json:"liters"`
	PricePerLiter decimal.Decimal `json:"price_per_liter"`
}

type TransactionUpdateRequest struct {
	LicensePlate  *string             `json:"license_plate,omitempty" validate:"omitempty,min=1,max=20"`
	OwnerName     *string             `json:"owner_name,omitempty" validate:"omitempty,max=120"`
	PaymentType   *PaymentType        `json:"payment_type,omitempty"`
	Liters        decimal.NullDecimal `json:"liters"`
	PricePerLiter decimal.NullDecimal `json:"price_per_liter"`
}

type VoidTransactionRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type SupplyCreateRequest struct {
	StationID  string          `json:"station_id"`
	DateKey    string          `json:"date_key"`
	TankNumber int             `json:"tank_number" validate:"min=0"`
	Liters     decimal.Decimal `json:"liters"`
	Reference  string          `json:"reference" validate:"max=120"`
}

type StockBalanceReport struct {
	StationID   string `json:"station_id"`
	FromDateKey string `json:"from_date_key"`
	ToDateKey   string `json:"to_date_key"`
	ShiftCount  int    `json:"shift_count"`
	StockBalance
}

type GaugeCheckReport struct {
	StationID string `json:"station_id"`
	DateKey   string `json:"date_key"`
	GaugeComparison
}

type DailySalesPayment struct {
	PaymentType  PaymentType     `json:"payment_type"`
	Transactions int             `json:"transactions"`
	Liters       decimal.Decimal `json:"liters"`
	Amount       decimal.Decimal `json:"amount"`
}

type DailySalesReport struct {
	StationID    string              `json:"station_id"`
	DateKey      string              `json:"date_key"`
	Transactions int                 `json:"transactions"`
	Voided       int                 `json:"voided"`
	Liters       decimal.Decimal     `json:"liters"`
	Amount       decimal.Decimal     `json:"amount"`
	ByPayment    []DailySalesPayment `json:"by_payment"`
}
