// Package protocol holds the singleton protocol configuration: fee, ratio and
// time parameters plus the feature flags gating every operation class.
package protocol

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidFeeBps          = errors.New("fee bps outside allowed bounds")
	ErrInvalidCollateralRatio = errors.New("collateral ratio outside allowed bounds")
	ErrInvalidOracleParameter = errors.New("oracle parameter outside allowed bounds")
	ErrInvalidGracePeriod     = errors.New("grace period outside allowed bounds")
	ErrFeatureDisabled        = errors.New("feature disabled")
)

// Bounds enforced on every config write.
const (
	MaxFeeBps               int64 = 500
	MaxTreasuryCutBps       int64 = 10_000
	MinCollateralRatioFloor int64 = 100
	MaxCollateralRatioCeil  int64 = 100_000
	MaxPriceDeviationCeil   int64 = 2_000
	MaxPriceAgeCeilSec      int64 = 3_600
	MaxFundingRateCeil      int64 = 10_000
	MinGracePeriodSec       int64 = 1
	MaxGracePeriodSec       int64 = 604_800
)

// FeatureFlags gate operation classes. A disabled flag fails the operation
// before any settlement math runs.
type FeatureFlags struct {
	AllowOpenPosition         bool
	AllowClosePosition        bool
	AllowTrading              bool
	AllowLiquidations         bool
	AllowBasktCreation        bool
	AllowBasktUpdate          bool
	AllowAddCollateral        bool
	AllowAddLiquidity         bool
	AllowRemoveLiquidity      bool
	AllowPnlWithdrawal        bool
	AllowCollateralWithdrawal bool
}

// AllEnabled returns flags with every operation class enabled.
func AllEnabled() FeatureFlags {
	return FeatureFlags{
		AllowOpenPosition:         true,
		AllowClosePosition:        true,
		AllowTrading:              true,
		AllowLiquidations:         true,
		AllowBasktCreation:        true,
		AllowBasktUpdate:          true,
		AllowAddCollateral:        true,
		AllowAddLiquidity:         true,
		AllowRemoveLiquidity:      true,
		AllowPnlWithdrawal:        true,
		AllowCollateralWithdrawal: true,
	}
}

// Config is the protocol singleton. Mutations go through Update so that
// bounds are enforced and the writer is stamped.
type Config struct {
	OpeningFeeBps           int64
	ClosingFeeBps           int64
	LiquidationFeeBps       int64
	TreasuryCutBps          int64
	MinCollateralRatioBps   int64
	LiquidationThresholdBps int64
	MaxPriceAgeSec          int64
	MaxPriceDeviationBps    int64
	MaxFundingRateBps       int64
	GracePeriodSec          int64
	Features                FeatureFlags

	LastUpdatedBy common.Address
	LastUpdated   int64
}

// Default returns the config the engine boots with before a ConfigManager
// writes anything.
func Default() Config {
	return Config{
		OpeningFeeBps:           10,
		ClosingFeeBps:           10,
		LiquidationFeeBps:       50,
		TreasuryCutBps:          3_000,
		MinCollateralRatioBps:   10_000,
		LiquidationThresholdBps: 5_000,
		MaxPriceAgeSec:          60,
		MaxPriceDeviationBps:    100,
		MaxFundingRateBps:       1_000,
		GracePeriodSec:          86_400,
		Features:                AllEnabled(),
	}
}

// Validate checks every bounded field. It is called on boot and on update.
func (c *Config) Validate() error {
	for _, fee := range []int64{c.OpeningFeeBps, c.ClosingFeeBps, c.LiquidationFeeBps} {
		if fee < 0 || fee > MaxFeeBps {
			return ErrInvalidFeeBps
		}
	}
	if c.TreasuryCutBps < 0 || c.TreasuryCutBps > MaxTreasuryCutBps {
		return ErrInvalidFeeBps
	}
	if c.MinCollateralRatioBps < MinCollateralRatioFloor || c.MinCollateralRatioBps > MaxCollateralRatioCeil {
		return ErrInvalidCollateralRatio
	}
	if c.LiquidationThresholdBps < MinCollateralRatioFloor || c.LiquidationThresholdBps > c.MinCollateralRatioBps {
		return ErrInvalidCollateralRatio
	}
	if c.MaxPriceAgeSec < 1 || c.MaxPriceAgeSec > MaxPriceAgeCeilSec {
		return ErrInvalidOracleParameter
	}
	if c.MaxPriceDeviationBps < 0 || c.MaxPriceDeviationBps > MaxPriceDeviationCeil {
		return ErrInvalidOracleParameter
	}
	if c.MaxFundingRateBps <= 0 || c.MaxFundingRateBps > MaxFundingRateCeil {
		return ErrInvalidOracleParameter
	}
	if c.GracePeriodSec < MinGracePeriodSec || c.GracePeriodSec > MaxGracePeriodSec {
		return ErrInvalidGracePeriod
	}
	return nil
}

// Update replaces the mutable parameters with next after validating it, and
// stamps the writer and time. Feature flags travel with the same write.
func (c *Config) Update(next Config, updatedBy common.Address, now int64) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next.LastUpdatedBy = updatedBy
	next.LastUpdated = now
	*c = next
	return nil
}
