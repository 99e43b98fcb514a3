package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/supachaiborikarn/credit-billing-supachai-sub002/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "admin"})
	if err == nil {
		t.Fatalf("expected weak bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func stationConfig() config.Config {
	return config.Config{
		NozzleCount:                4,
		TankCount:                  3,
		TankCapacityLiters:         decimal.NewFromInt(2400),
		LowGaugePercent:            decimal.NewFromInt(20),
		DiscrepancyThresholdLiters: decimal.NewFromInt(1),
		GaugeCrossCheckPercent:     decimal.NewFromInt(5),
		StockTolerancePercent:      decimal.NewFromInt(5),
		LockThreshold:              24 * time.Hour,
		MaxShiftsPerDay:            2,
	}
}

func TestBuildMachine(t *testing.T) {
	machine, err := buildMachine(stationConfig())
	if err != nil {
		t.Fatalf("build machine: %v", err)
	}
	if machine.Gauges().TankCount() != 3 {
		t.Fatalf("expected 3 tanks, got %d", machine.Gauges().TankCount())
	}
}

func TestBuildMachineRejectsNonsense(t *testing.T) {
	cfg := stationConfig()
	cfg.NozzleCount = 0
	if _, err := buildMachine(cfg); err == nil {
		t.Fatalf("expected zero nozzles to be rejected")
	}

	cfg = stationConfig()
	cfg.TankCapacityLiters = decimal.Zero
	if _, err := buildMachine(cfg); err == nil {
		t.Fatalf("expected zero tank capacity to be rejected")
	}
}
