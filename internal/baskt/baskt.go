// Package baskt implements the basket record, its lifecycle state machine and
// the cumulative funding/borrow/rebalance-fee indices accrued against it.
package baskt

import (
	"errors"
	"fmt"

	"baskt-core/internal/fixedpoint"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidBasktConfig     = errors.New("invalid baskt config")
	ErrInvalidAssetWeights    = errors.New("asset weights must sum to 10000 bps")
	ErrLongPositionsDisabled  = errors.New("long positions disabled for asset")
	ErrShortPositionsDisabled = errors.New("short positions disabled for asset")
	ErrInvalidBasktState      = errors.New("invalid baskt state")
	ErrGracePeriodNotOver     = errors.New("grace period not over")
	ErrPositionsStillOpen     = errors.New("positions still open")
	ErrStaleFundingIndex      = errors.New("funding index not updated since grace period end")
)

// Direction of exposure an asset leg takes inside a baskt.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// AssetConfig is one weighted leg of a baskt.
type AssetConfig struct {
	AssetID       string
	WeightBps     int64
	Direction     Direction
	BaselinePrice int64
}

// Baskt is the basket record. Lifecycle transitions mutate Status; indices
// accrue in place while the baskt is live.
type Baskt struct {
	ID            string
	Creator       common.Address
	Public        bool
	Assets        []AssetConfig
	BaselineNav   int64
	Indices       MarketIndices
	RebalanceFee  RebalanceFeeIndex
	OpenPositions int
	Status        Status
}

// New validates the asset configuration against the registry and returns a
// pending baskt.
func New(id string, creator common.Address, public bool, assets []AssetConfig, registry *AssetRegistry, now int64) (*Baskt, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidBasktConfig)
	}
	if err := validateAssets(assets, registry); err != nil {
		return nil, err
	}
	b := &Baskt{
		ID:      id,
		Creator: creator,
		Public:  public,
		Assets:  append([]AssetConfig(nil), assets...),
		Indices: NewMarketIndices(now),
		Status:  Pending{},
	}
	return b, nil
}

func validateAssets(assets []AssetConfig, registry *AssetRegistry) error {
	if len(assets) == 0 {
		return fmt.Errorf("%w: at least one asset is required", ErrInvalidBasktConfig)
	}
	var weightSum int64
	for _, ac := range assets {
		if ac.AssetID == "" {
			return fmt.Errorf("%w: asset id is required", ErrInvalidBasktConfig)
		}
		if ac.WeightBps <= 0 {
			return fmt.Errorf("%w: weight must be positive for %s", ErrInvalidBasktConfig, ac.AssetID)
		}
		if ac.BaselinePrice < 0 {
			return fmt.Errorf("%w: baseline price must be non-negative for %s", ErrInvalidBasktConfig, ac.AssetID)
		}
		asset, ok := registry.Get(ac.AssetID)
		if !ok {
			return fmt.Errorf("%w: unknown asset %s", ErrInvalidBasktConfig, ac.AssetID)
		}
		switch ac.Direction {
		case Long:
			if !asset.AllowLong {
				return fmt.Errorf("%w: %s", ErrLongPositionsDisabled, ac.AssetID)
			}
		case Short:
			if !asset.AllowShort {
				return fmt.Errorf("%w: %s", ErrShortPositionsDisabled, ac.AssetID)
			}
		default:
			return fmt.Errorf("%w: unknown direction for %s", ErrInvalidBasktConfig, ac.AssetID)
		}
		weightSum += ac.WeightBps
	}
	if weightSum != fixedpoint.BpsDivisor {
		return ErrInvalidAssetWeights
	}
	return nil
}

// Activate moves Pending -> Active. Every asset must carry a baseline price;
// the baseline NAV is the weighted sum of those prices.
func (b *Baskt) Activate(baselinePrices map[string]int64) error {
	if b.Status.Phase() != PhasePending {
		return ErrInvalidBasktState
	}
	var nav int64
	for i := range b.Assets {
		price, ok := baselinePrices[b.Assets[i].AssetID]
		if !ok || price <= 0 {
			return fmt.Errorf("%w: baseline price required for %s", ErrInvalidBasktConfig, b.Assets[i].AssetID)
		}
		b.Assets[i].BaselinePrice = price
		share, err := fixedpoint.MulDiv(price, b.Assets[i].WeightBps, fixedpoint.BpsDivisor)
		if err != nil {
			return err
		}
		nav, err = fixedpoint.Add(nav, share)
		if err != nil {
			return err
		}
	}
	b.BaselineNav = nav
	b.Status = Active{}
	return nil
}

// Decommission moves Active -> Decommissioning and opens the grace window.
func (b *Baskt) Decommission(now, gracePeriodSec int64) error {
	if b.Status.Phase() != PhaseActive {
		return ErrInvalidBasktState
	}
	b.Status = Decommissioning{
		InitiatedAt:    now,
		GracePeriodEnd: now + gracePeriodSec,
	}
	return nil
}

// Settle moves Decommissioning -> Settled once the grace period has elapsed
// and the funding index has been updated since the window closed. The given
// NAV becomes the exit price of every subsequent force-close.
func (b *Baskt) Settle(now, settlementPrice int64) error {
	dec, ok := b.Status.(Decommissioning)
	if !ok {
		return ErrInvalidBasktState
	}
	if now < dec.GracePeriodEnd {
		return ErrGracePeriodNotOver
	}
	if b.Indices.LastUpdateTimestamp < dec.GracePeriodEnd {
		return ErrStaleFundingIndex
	}
	if settlementPrice <= 0 {
		return fmt.Errorf("%w: settlement price must be positive", ErrInvalidBasktConfig)
	}
	b.Status = Settled{
		SettlementPrice:        settlementPrice,
		SettlementFundingIndex: b.Indices.CumulativeFundingIndex,
	}
	return nil
}

// Close moves Settled -> Closed once every position has been force-closed.
// FinalNav is carried over from the settlement price, never recomputed.
func (b *Baskt) Close(now int64) error {
	settled, ok := b.Status.(Settled)
	if !ok {
		return ErrInvalidBasktState
	}
	if b.OpenPositions != 0 {
		return ErrPositionsStillOpen
	}
	b.Status = Closed{
		FinalNav: settled.SettlementPrice,
		ClosedAt: now,
	}
	return nil
}

// Rebalance replaces the asset configuration while Active, re-validated under
// the same rules as creation, and unconditionally bumps the rebalance fee
// index by feePerUnit (a non-negative per-unit-notional bps amount).
func (b *Baskt) Rebalance(assets []AssetConfig, feePerUnit int64, registry *AssetRegistry) error {
	if b.Status.Phase() != PhaseActive {
		return ErrInvalidBasktState
	}
	if feePerUnit < 0 {
		return fmt.Errorf("%w: rebalance fee must be non-negative", ErrInvalidBasktConfig)
	}
	if err := validateAssets(assets, registry); err != nil {
		return err
	}
	var nav int64
	for _, ac := range assets {
		if ac.BaselinePrice <= 0 {
			return fmt.Errorf("%w: baseline price required for %s", ErrInvalidBasktConfig, ac.AssetID)
		}
		share, err := fixedpoint.MulDiv(ac.BaselinePrice, ac.WeightBps, fixedpoint.BpsDivisor)
		if err != nil {
			return err
		}
		nav, err = fixedpoint.Add(nav, share)
		if err != nil {
			return err
		}
	}
	b.Assets = append(b.Assets[:0], assets...)
	b.BaselineNav = nav
	b.RebalanceFee.Bump(feePerUnit)
	return nil
}
