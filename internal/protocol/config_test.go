package protocol

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if !cfg.Features.AllowTrading {
		t.Fatalf("default config should enable trading")
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"opening fee too high", func(c *Config) { c.OpeningFeeBps = MaxFeeBps + 1 }, ErrInvalidFeeBps},
		{"negative closing fee", func(c *Config) { c.ClosingFeeBps = -1 }, ErrInvalidFeeBps},
		{"treasury cut too high", func(c *Config) { c.TreasuryCutBps = MaxTreasuryCutBps + 1 }, ErrInvalidFeeBps},
		{"collateral ratio below floor", func(c *Config) { c.MinCollateralRatioBps = MinCollateralRatioFloor - 1 }, ErrInvalidCollateralRatio},
		{"threshold above min ratio", func(c *Config) { c.LiquidationThresholdBps = c.MinCollateralRatioBps + 1 }, ErrInvalidCollateralRatio},
		{"price age zero", func(c *Config) { c.MaxPriceAgeSec = 0 }, ErrInvalidOracleParameter},
		{"price deviation too high", func(c *Config) { c.MaxPriceDeviationBps = MaxPriceDeviationCeil + 1 }, ErrInvalidOracleParameter},
		{"funding rate cap zero", func(c *Config) { c.MaxFundingRateBps = 0 }, ErrInvalidOracleParameter},
		{"grace period zero", func(c *Config) { c.GracePeriodSec = 0 }, ErrInvalidGracePeriod},
		{"grace period too long", func(c *Config) { c.GracePeriodSec = MaxGracePeriodSec + 1 }, ErrInvalidGracePeriod},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestUpdateStampsWriter(t *testing.T) {
	cfg := Default()
	next := Default()
	next.OpeningFeeBps = 20
	writer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if err := cfg.Update(next, writer, 1_700_000_000); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if cfg.OpeningFeeBps != 20 {
		t.Fatalf("expected opening fee 20, got %d", cfg.OpeningFeeBps)
	}
	if cfg.LastUpdatedBy != writer {
		t.Fatalf("expected writer stamped")
	}
	if cfg.LastUpdated != 1_700_000_000 {
		t.Fatalf("expected timestamp stamped, got %d", cfg.LastUpdated)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	cfg := Default()
	next := Default()
	next.GracePeriodSec = 0
	err := cfg.Update(next, common.Address{}, 0)
	if !errors.Is(err, ErrInvalidGracePeriod) {
		t.Fatalf("expected ErrInvalidGracePeriod, got %v", err)
	}
	if cfg.GracePeriodSec != Default().GracePeriodSec {
		t.Fatalf("rejected update must not mutate config")
	}
}
