package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/gauge"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/logger"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/meter"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/reconcile"
	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/shift"
)

type Config struct {
	Port                  string `env:"PORT" envDefault:"8080"`
	AllowedOrigin         string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`
	DatabaseURL           string `env:"DATABASE_URL"`
	RedisAddr             string `env:"REDIS_ADDR"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`
	StationID             string `env:"DEFAULT_STATION_ID" envDefault:"main-station"`
	AuthSecret            string `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"480"`

	// BootstrapAdminPassword creates the "admin" account on startup when no
	// admin exists yet. Needed for a fresh postgres database.
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD"`

	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	NozzleCount                int             `env:"NOZZLE_COUNT" envDefault:"4"`
	TankCount                  int             `env:"TANK_COUNT" envDefault:"3"`
	TankCapacityLiters         decimal.Decimal `env:"TANK_CAPACITY_LITERS" envDefault:"2400"`
	TankCapacities             string          `env:"TANK_CAPACITIES"`
	LowGaugePercent            decimal.Decimal `env:"LOW_GAUGE_PERCENT" envDefault:"20"`
	DiscrepancyThresholdLiters decimal.Decimal `env:"DISCREPANCY_THRESHOLD_LITERS" envDefault:"1"`
	GaugeCrossCheckPercent     decimal.Decimal `env:"GAUGE_CROSSCHECK_PERCENT" envDefault:"5"`
	StockTolerancePercent      decimal.Decimal `env:"STOCK_BALANCE_TOLERANCE_PERCENT" envDefault:"5"`
	LockThreshold              time.Duration   `env:"LOCK_THRESHOLD" envDefault:"24h"`
	MaxShiftsPerDay            int             `env:"MAX_SHIFTS_PER_DAY" envDefault:"2"`
	ReportCacheTTL             time.Duration   `env:"REPORT_CACHE_TTL" envDefault:"5m"`
	OpenLockTTL                time.Duration   `env:"OPEN_LOCK_TTL" envDefault:"10s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if _, err := cfg.tankCapacities(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func (c Config) Logger() logger.Config {
	lc := logger.DefaultConfig(c.AppEnv)
	if c.LogLevel != "" && !c.IsDevelopment() {
		lc.Level = c.LogLevel
	}
	lc.FilePath = c.LogFile
	return lc
}

func (c Config) Meter() meter.Config {
	return meter.Config{
		NozzleCount:          c.NozzleCount,
		DiscrepancyThreshold: c.DiscrepancyThresholdLiters,
	}
}

func (c Config) Gauge() gauge.Config {
	capacities, _ := c.tankCapacities()
	return gauge.Config{
		TankCount:         c.TankCount,
		CapacityLiters:    c.TankCapacityLiters,
		TankCapacities:    capacities,
		LowPercent:        c.LowGaugePercent,
		CrossCheckPercent: c.GaugeCrossCheckPercent,
	}
}

func (c Config) Reconcile() reconcile.Config {
	return reconcile.Config{StockTolerancePercent: c.StockTolerancePercent}
}

func (c Config) Shift() shift.Config {
	return shift.Config{
		LockThreshold:   c.LockThreshold,
		MaxShiftsPerDay: c.MaxShiftsPerDay,
	}
}

// tankCapacities parses TANK_CAPACITIES, a comma list where position i is
// tank i+1. Empty entries keep the default capacity.
func (c Config) tankCapacities() (map[int]decimal.Decimal, error) {
	raw := strings.TrimSpace(c.TankCapacities)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) > c.TankCount {
		return nil, fmt.Errorf("TANK_CAPACITIES lists %d tanks but TANK_COUNT is %d", len(parts), c.TankCount)
	}
	out := make(map[int]decimal.Decimal, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("TANK_CAPACITIES entry %s: %w", strconv.Quote(part), err)
		}
		if !value.IsPositive() {
			return nil, errors.New("TANK_CAPACITIES entries must be positive")
		}
		out[i+1] = value
	}
	return out, nil
}
