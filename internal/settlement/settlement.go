// Package settlement computes the exact payout of every position close:
// normal, partial, liquidation and force-close. Compute is pure; Apply
// performs the single state mutation. Nothing here moves value — the engine
// hands the transfer legs to the token collaborator.
package settlement

import (
	"errors"
	"fmt"

	"baskt-core/internal/baskt"
	"baskt-core/internal/fixedpoint"
	"baskt-core/internal/position"
	"baskt-core/internal/protocol"
)

var ErrPositionNotLiquidatable = errors.New("position not liquidatable")

// Class of settlement being computed.
type Class int

const (
	Normal Class = iota
	Liquidation
	ForceClose
)

func (c Class) String() string {
	switch c {
	case Liquidation:
		return "liquidation"
	case ForceClose:
		return "force_close"
	default:
		return "normal"
	}
}

// AccountClass identifies one side of a transfer instruction.
type AccountClass int

const (
	AccountEscrow AccountClass = iota
	AccountUser
	AccountPool
	AccountTreasury
)

func (a AccountClass) String() string {
	switch a {
	case AccountEscrow:
		return "escrow"
	case AccountUser:
		return "user"
	case AccountPool:
		return "pool"
	default:
		return "treasury"
	}
}

// Transfer is an exact instruction for the external token collaborator.
type Transfer struct {
	Amount int64
	From   AccountClass
	To     AccountClass
}

// Result carries every intermediate of the settlement math so the outcome is
// independently verifiable, plus the net transfer legs.
type Result struct {
	PositionID string
	Class      Class

	SizeClosed int64
	SizePct    int64
	ExitPrice  int64

	Pnl            int64
	FundingAccrued int64
	BorrowAccrued  int64

	ClosingFee   int64
	RebalanceFee int64
	TotalFees    int64

	CollateralShare int64
	NetCollateral   int64
	UserEquity      int64

	UserPayout  int64
	TreasuryFee int64
	PoolDelta   int64

	PoolToUser int64
	UserToPool int64

	IsBadDebt bool
	FullClose bool

	Transfers []Transfer
}

// SplitFee divides a fee total into the treasury cut and the pool share.
func SplitFee(total, treasuryCutBps int64) (treasury, pool int64, err error) {
	treasury, err = fixedpoint.BpsShare(total, treasuryCutBps)
	if err != nil {
		return 0, 0, err
	}
	return treasury, total - treasury, nil
}

// CheckLiquidatable fails unless the position's collateral ratio at the
// current price is at or below the liquidation threshold. The comparison is
// cross-multiplied so a position exactly at the threshold is liquidatable and
// one unit of collateral above it is not.
func CheckLiquidatable(cfg *protocol.Config, pos *position.Position, currentPrice int64) error {
	if currentPrice <= 0 {
		return position.ErrInvalidOraclePrice
	}
	notional, err := fixedpoint.MulDiv(pos.Size, currentPrice, fixedpoint.PricePrecision)
	if err != nil {
		return err
	}
	// collateral/notional <= threshold/BpsDivisor
	if fixedpoint.CmpMul(pos.Collateral, fixedpoint.BpsDivisor, cfg.LiquidationThresholdBps, notional) > 0 {
		return fmt.Errorf("%w: collateral %d notional %d", ErrPositionNotLiquidatable, pos.Collateral, notional)
	}
	return nil
}

// Compute runs the settlement math for closing sizeToClose contracts of pos
// at exitPrice. It mutates nothing.
func Compute(cfg *protocol.Config, pos *position.Position, b *baskt.Baskt, sizeToClose, exitPrice int64, class Class) (Result, error) {
	if sizeToClose <= 0 || sizeToClose > pos.Size {
		return Result{}, position.ErrInvalidPositionSize
	}
	if exitPrice <= 0 {
		return Result{}, position.ErrInvalidOraclePrice
	}
	res := Result{
		PositionID: pos.ID,
		Class:      class,
		SizeClosed: sizeToClose,
		ExitPrice:  exitPrice,
		FullClose:  sizeToClose == pos.Size,
	}
	var err error
	res.SizePct, err = fixedpoint.MulDiv(sizeToClose, fixedpoint.BpsDivisor, pos.Size)
	if err != nil {
		return Result{}, err
	}

	// Holding costs accrued since the last stamped indices, on the full
	// position size. Positive means owed by the user.
	res.FundingAccrued, err = fixedpoint.MulDiv(pos.Size, b.Indices.CumulativeFundingIndex-pos.LastFundingIndex, fixedpoint.IndexPrecision)
	if err != nil {
		return Result{}, err
	}
	res.BorrowAccrued, err = fixedpoint.MulDiv(pos.Size, b.Indices.CumulativeBorrowIndex-pos.LastBorrowIndex, fixedpoint.IndexPrecision)
	if err != nil {
		return Result{}, err
	}

	res.Pnl, err = fixedpoint.MulDiv(exitPrice-pos.EntryPrice, sizeToClose, fixedpoint.PricePrecision)
	if err != nil {
		return Result{}, err
	}
	if pos.Direction == baskt.Short {
		res.Pnl = -res.Pnl
	}

	exitNotional, err := fixedpoint.MulDiv(sizeToClose, exitPrice, fixedpoint.PricePrecision)
	if err != nil {
		return Result{}, err
	}
	feeBps := cfg.ClosingFeeBps
	if class == Liquidation {
		feeBps = cfg.LiquidationFeeBps
	}
	res.ClosingFee, err = fixedpoint.BpsShare(exitNotional, feeBps)
	if err != nil {
		return Result{}, err
	}

	// The rebalance fee accrued since the position's last close is charged in
	// full, never prorated by the share of size being closed.
	res.RebalanceFee, err = fixedpoint.MulDiv(b.RebalanceFee.CumulativeIndex-pos.LastRebalanceFeeIndex, exitNotional, fixedpoint.BpsDivisor)
	if err != nil {
		return Result{}, err
	}
	res.TotalFees = res.ClosingFee + res.RebalanceFee

	res.CollateralShare, err = fixedpoint.MulDiv(pos.Collateral, res.SizePct, fixedpoint.BpsDivisor)
	if err != nil {
		return Result{}, err
	}
	res.NetCollateral = res.CollateralShare - res.TotalFees

	holdingCost := res.FundingAccrued + res.BorrowAccrued
	res.UserEquity = res.NetCollateral + res.Pnl - holdingCost

	switch {
	case res.UserEquity < 0:
		// Bad debt: the user receives nothing, the whole collateral share
		// routes to the pool, and no fee split occurs.
		res.IsBadDebt = true
		res.UserPayout = 0
		res.TreasuryFee = 0
		res.PoolDelta = res.CollateralShare
	case class == Liquidation:
		// Liquidation never pays the user: the threshold was breached from
		// the pool's perspective, so the escrow minus the treasury cut is
		// swept to the pool even if unwound equity was nominally positive.
		treasury, _, err := SplitFee(res.TotalFees, cfg.TreasuryCutBps)
		if err != nil {
			return Result{}, err
		}
		res.UserPayout = 0
		res.TreasuryFee = treasury
		res.PoolDelta = res.CollateralShare - treasury
	default:
		treasury, poolFeeShare, err := SplitFee(res.TotalFees, cfg.TreasuryCutBps)
		if err != nil {
			return Result{}, err
		}
		res.PoolToUser = max64(-holdingCost, 0) + max64(res.Pnl, 0)
		res.UserToPool = max64(holdingCost, 0) + max64(-res.Pnl, 0) + poolFeeShare
		res.UserPayout = res.UserEquity
		res.TreasuryFee = treasury
		res.PoolDelta = res.CollateralShare - res.UserPayout - res.TreasuryFee
	}

	res.Transfers = transferLegs(res)
	return res, nil
}

// transferLegs nets the settlement into exact instructions: the escrow is
// fully disposed of its collateral share, the pool tops up the user when its
// net delta is negative, and the treasury receives its cut.
func transferLegs(res Result) []Transfer {
	legs := make([]Transfer, 0, 3)
	if res.TreasuryFee > 0 {
		legs = append(legs, Transfer{Amount: res.TreasuryFee, From: AccountEscrow, To: AccountTreasury})
	}
	if res.PoolDelta >= 0 {
		if res.PoolDelta > 0 {
			legs = append(legs, Transfer{Amount: res.PoolDelta, From: AccountEscrow, To: AccountPool})
		}
		if res.UserPayout > 0 {
			legs = append(legs, Transfer{Amount: res.UserPayout, From: AccountEscrow, To: AccountUser})
		}
		return legs
	}
	// Pool owes the user more than the escrow share covers.
	fromEscrow := res.CollateralShare - res.TreasuryFee
	if fromEscrow > 0 {
		legs = append(legs, Transfer{Amount: fromEscrow, From: AccountEscrow, To: AccountUser})
	}
	legs = append(legs, Transfer{Amount: -res.PoolDelta, From: AccountPool, To: AccountUser})
	return legs
}

// Apply performs the position mutation of a computed settlement: realize the
// accrued holding costs, advance every stamped index, and scale the position
// down. The caller deletes the record when FullClose is set.
func Apply(pos *position.Position, b *baskt.Baskt, res Result, now int64) error {
	pos.FundingAccumulated += res.FundingAccrued
	pos.BorrowAccumulated += res.BorrowAccrued
	pos.LastFundingIndex = b.Indices.CumulativeFundingIndex
	pos.LastBorrowIndex = b.Indices.CumulativeBorrowIndex
	pos.LastRebalanceFeeIndex = b.RebalanceFee.CumulativeIndex
	if _, err := pos.ScaleDown(res.SizeClosed, res.SizePct); err != nil {
		return err
	}
	if pos.Size == 0 {
		pos.Status = position.StatusClosed
		pos.ExitPrice = res.ExitPrice
		pos.ClosedAt = now
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
