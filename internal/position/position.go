// Package position implements orders, leveraged positions and the open-side
// arithmetic: sizing, opening fee, and the collateral ratio check.
package position

import (
	"errors"
	"fmt"

	"baskt-core/internal/baskt"
	"baskt-core/internal/fixedpoint"
	"baskt-core/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroSizedPosition      = errors.New("position size rounds to zero")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidPositionSize    = errors.New("invalid position size")
	ErrInvalidOraclePrice     = errors.New("invalid oracle price")
	ErrPriceOutOfBounds       = errors.New("price out of bounds")
)

type Action int

const (
	ActionOpen Action = iota
	ActionClose
)

type OrderType int

const (
	Market OrderType = iota
	Limit
)

// Order is consumed exactly once by open/close processing; the record is
// deleted afterwards. Size is the notional for open orders and the contract
// size to close for close orders.
type Order struct {
	ID             string
	Owner          common.Address
	BasktID        string
	Action         Action
	Size           int64
	Collateral     int64
	Direction      baskt.Direction
	Type           OrderType
	LimitPrice     int64
	MaxSlippageBps int64
	TargetPosition string
}

type Status int

const (
	StatusOpen Status = iota
	StatusClosed
)

// Position is a leveraged exposure against a baskt's NAV. Collateral is net
// of the opening fee. The index snapshots let the settlement engine compute
// funding/borrow deltas without per-second updates.
type Position struct {
	ID                    string
	Owner                 common.Address
	BasktID               string
	Size                  int64
	Collateral            int64
	Direction             baskt.Direction
	EntryPrice            int64
	EntryFundingIndex     int64
	LastFundingIndex      int64
	EntryBorrowIndex      int64
	LastBorrowIndex       int64
	FundingAccumulated    int64
	BorrowAccumulated     int64
	LastRebalanceFeeIndex int64
	Status                Status
	ExitPrice             int64
	ClosedAt              int64
}

// ValidateEntryPrice enforces the oracle bounds on an open: a nonzero entry
// price within the configured deviation of the current NAV, and inside the
// order's slippage band for limit orders.
func ValidateEntryPrice(cfg *protocol.Config, order Order, entryPrice, nav int64) error {
	if entryPrice <= 0 || nav <= 0 {
		return ErrInvalidOraclePrice
	}
	deviation, err := fixedpoint.BpsShare(nav, cfg.MaxPriceDeviationBps)
	if err != nil {
		return err
	}
	if entryPrice < nav-deviation || entryPrice > nav+deviation {
		return fmt.Errorf("%w: entry %d outside nav %d +/- %d", ErrPriceOutOfBounds, entryPrice, nav, deviation)
	}
	if order.Type == Limit {
		if order.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit price is required", ErrInvalidOraclePrice)
		}
		band, err := fixedpoint.BpsShare(order.LimitPrice, order.MaxSlippageBps)
		if err != nil {
			return err
		}
		if entryPrice < order.LimitPrice-band || entryPrice > order.LimitPrice+band {
			return fmt.Errorf("%w: entry %d outside limit %d +/- %d", ErrPriceOutOfBounds, entryPrice, order.LimitPrice, band)
		}
	}
	return nil
}

// Open computes the position created by an open order at entryPrice. The
// caller has already validated the price and the baskt state. The returned
// openingFee is split and transferred by the engine.
func Open(cfg *protocol.Config, order Order, entryPrice int64, b *baskt.Baskt, id string) (*Position, int64, error) {
	if order.Action != ActionOpen {
		return nil, 0, errors.New("order action must be open")
	}
	if order.Size <= 0 {
		return nil, 0, fmt.Errorf("%w: notional must be positive", ErrInvalidPositionSize)
	}
	size, err := fixedpoint.MulDiv(order.Size, fixedpoint.PricePrecision, entryPrice)
	if err != nil {
		return nil, 0, err
	}
	if size == 0 {
		return nil, 0, ErrZeroSizedPosition
	}
	openingFee, err := fixedpoint.BpsShare(order.Size, cfg.OpeningFeeBps)
	if err != nil {
		return nil, 0, err
	}
	netCollateral := order.Collateral - openingFee
	required, err := fixedpoint.BpsShare(order.Size, cfg.MinCollateralRatioBps)
	if err != nil {
		return nil, 0, err
	}
	if netCollateral < required {
		return nil, 0, fmt.Errorf("%w: net %d below required %d", ErrInsufficientCollateral, netCollateral, required)
	}
	pos := &Position{
		ID:                    id,
		Owner:                 order.Owner,
		BasktID:               order.BasktID,
		Size:                  size,
		Collateral:            netCollateral,
		Direction:             order.Direction,
		EntryPrice:            entryPrice,
		EntryFundingIndex:     b.Indices.CumulativeFundingIndex,
		LastFundingIndex:      b.Indices.CumulativeFundingIndex,
		EntryBorrowIndex:      b.Indices.CumulativeBorrowIndex,
		LastBorrowIndex:       b.Indices.CumulativeBorrowIndex,
		LastRebalanceFeeIndex: b.RebalanceFee.CumulativeIndex,
		Status:                StatusOpen,
	}
	return pos, openingFee, nil
}

// ScaleDown applies the proportional mutation of a partial close keyed by
// sizePct (bps of the position being closed). It is the single scale-down
// used by normal close, liquidation and force-close so the rounding never
// diverges between settlement classes. Returns the collateral share removed.
func (p *Position) ScaleDown(sizeToClose, sizePct int64) (int64, error) {
	if sizeToClose <= 0 || sizeToClose > p.Size {
		return 0, ErrInvalidPositionSize
	}
	collateralShare, err := fixedpoint.MulDiv(p.Collateral, sizePct, fixedpoint.BpsDivisor)
	if err != nil {
		return 0, err
	}
	fundingShare, err := fixedpoint.MulDiv(p.FundingAccumulated, sizePct, fixedpoint.BpsDivisor)
	if err != nil {
		return 0, err
	}
	borrowShare, err := fixedpoint.MulDiv(p.BorrowAccumulated, sizePct, fixedpoint.BpsDivisor)
	if err != nil {
		return 0, err
	}
	p.Size -= sizeToClose
	p.Collateral -= collateralShare
	p.FundingAccumulated -= fundingShare
	p.BorrowAccumulated -= borrowShare
	return collateralShare, nil
}
