package core

import (
	"errors"
	"fmt"

	"baskt-core/internal/access"
	"baskt-core/internal/baskt"
	"baskt-core/internal/position"
	"baskt-core/internal/protocol"
	"baskt-core/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

// PlaceOrder records an order for later matching. The record is consumed
// exactly once by Open/Close processing and deleted afterwards.
func (e *Engine) PlaceOrder(order position.Order) error {
	if order.ID == "" {
		return errors.New("order id is required")
	}
	if order.BasktID == "" {
		return errors.New("order baskt id is required")
	}
	switch order.Action {
	case position.ActionOpen:
		if order.Size <= 0 || order.Collateral <= 0 {
			return position.ErrInvalidPositionSize
		}
	case position.ActionClose:
		if order.Size <= 0 || order.TargetPosition == "" {
			return position.ErrInvalidPositionSize
		}
	default:
		return errors.New("unknown order action")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s", ErrDuplicateRecord, order.ID)
	}
	e.orders[order.ID] = &order
	return nil
}

// OpenPosition consumes an open order at entryPrice, checked against the
// current oracle NAV. Matcher only; trading and open-position flags apply.
func (e *Engine) OpenPosition(actor common.Address, orderID string, entryPrice, nav, now int64) (*position.Position, error) {
	if err := e.roles.Require(actor, access.RoleMatcher); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowTrading || !e.cfg.Features.AllowOpenPosition {
		return nil, protocol.ErrFeatureDisabled
	}
	order, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Action != position.ActionOpen {
		return nil, fmt.Errorf("%w: order %s is not an open order", ErrOrderNotFound, orderID)
	}
	b, ok := e.baskts[order.BasktID]
	if !ok {
		return nil, ErrBasktNotFound
	}
	if b.Status.Phase() != baskt.PhaseActive {
		return nil, baskt.ErrInvalidBasktState
	}
	if err := position.ValidateEntryPrice(&e.cfg, *order, entryPrice, nav); err != nil {
		return nil, err
	}
	e.seq++
	pos, openingFee, err := position.Open(&e.cfg, *order, entryPrice, b, fmt.Sprintf("pos-%d", e.seq))
	if err != nil {
		e.seq--
		return nil, err
	}
	treasuryCut, poolShare, err := settlement.SplitFee(openingFee, e.cfg.TreasuryCutBps)
	if err != nil {
		e.seq--
		return nil, err
	}

	// The escrow receives the full order collateral; the opening fee is
	// split and transferred out immediately, leaving the net collateral.
	e.escrows[pos.ID] = pos.Collateral
	e.treasury += treasuryCut
	e.pool += poolShare
	e.positions[pos.ID] = pos
	b.OpenPositions++
	delete(e.orders, orderID)

	e.metrics.PositionsOpened.Inc()
	e.notify(func(o Observer) {
		o.OnOpen(OpenEvent{
			Position:    *pos,
			OpeningFee:  openingFee,
			TreasuryCut: treasuryCut,
			PoolShare:   poolShare,
			Now:         now,
		})
	})
	e.log.Info("position opened",
		zap.String("position", pos.ID),
		zap.String("baskt", pos.BasktID),
		zap.Int64("size", pos.Size),
		zap.Int64("collateral", pos.Collateral),
		zap.Int64("entry_price", pos.EntryPrice),
	)
	out := *pos
	return &out, nil
}

// ClosePosition consumes a close order, settling up to the ordered size at
// exitPrice. Matcher only; trading and close-position flags apply.
func (e *Engine) ClosePosition(actor common.Address, orderID string, exitPrice, now int64) (settlement.Result, error) {
	if err := e.roles.Require(actor, access.RoleMatcher); err != nil {
		return settlement.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowTrading || !e.cfg.Features.AllowClosePosition {
		return settlement.Result{}, protocol.ErrFeatureDisabled
	}
	order, ok := e.orders[orderID]
	if !ok {
		return settlement.Result{}, ErrOrderNotFound
	}
	if order.Action != position.ActionClose {
		return settlement.Result{}, fmt.Errorf("%w: order %s is not a close order", ErrOrderNotFound, orderID)
	}
	pos, ok := e.positions[order.TargetPosition]
	if !ok {
		return settlement.Result{}, ErrPositionNotFound
	}
	if pos.Owner != order.Owner {
		return settlement.Result{}, access.ErrUnauthorized
	}
	res, err := e.settleLocked(pos, order.Size, exitPrice, settlement.Normal, now)
	if err != nil {
		return settlement.Result{}, err
	}
	delete(e.orders, orderID)
	return res, nil
}

// LiquidatePosition force-settles a position whose collateral ratio is at or
// below the liquidation threshold. Liquidator only; liquidations flag applies.
func (e *Engine) LiquidatePosition(actor common.Address, positionID string, currentPrice, now int64) (settlement.Result, error) {
	if err := e.roles.Require(actor, access.RoleLiquidator); err != nil {
		return settlement.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowLiquidations {
		return settlement.Result{}, protocol.ErrFeatureDisabled
	}
	pos, ok := e.positions[positionID]
	if !ok {
		return settlement.Result{}, ErrPositionNotFound
	}
	if err := settlement.CheckLiquidatable(&e.cfg, pos, currentPrice); err != nil {
		return settlement.Result{}, err
	}
	return e.settleLocked(pos, pos.Size, currentPrice, settlement.Liquidation, now)
}

// ForceClosePosition unwinds a position of a decommissioning or settled
// baskt. Matcher only; exempt from the trading feature flag. Once the baskt
// is Settled the frozen settlement price overrides the supplied price.
func (e *Engine) ForceClosePosition(actor common.Address, positionID string, price, now int64) (settlement.Result, error) {
	if err := e.roles.Require(actor, access.RoleMatcher); err != nil {
		return settlement.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[positionID]
	if !ok {
		return settlement.Result{}, ErrPositionNotFound
	}
	b, ok := e.baskts[pos.BasktID]
	if !ok {
		return settlement.Result{}, ErrBasktNotFound
	}
	switch status := b.Status.(type) {
	case baskt.Settled:
		price = status.SettlementPrice
	case baskt.Decommissioning:
		// supplied price stands
	default:
		return settlement.Result{}, baskt.ErrPositionsStillOpen
	}
	return e.settleLocked(pos, pos.Size, price, settlement.ForceClose, now)
}

// settleLocked runs compute-then-apply under the engine lock and moves the
// escrow, pool and treasury balances by the computed legs.
func (e *Engine) settleLocked(pos *position.Position, sizeToClose, exitPrice int64, class settlement.Class, now int64) (settlement.Result, error) {
	b, ok := e.baskts[pos.BasktID]
	if !ok {
		return settlement.Result{}, ErrBasktNotFound
	}
	res, err := settlement.Compute(&e.cfg, pos, b, sizeToClose, exitPrice, class)
	if err != nil {
		return settlement.Result{}, err
	}
	if err := settlement.Apply(pos, b, res, now); err != nil {
		return settlement.Result{}, err
	}

	e.escrows[pos.ID] -= res.CollateralShare
	e.treasury += res.TreasuryFee
	e.pool += res.PoolDelta

	if res.FullClose {
		delete(e.positions, pos.ID)
		delete(e.escrows, pos.ID)
		b.OpenPositions--
	}

	switch class {
	case settlement.Liquidation:
		e.metrics.Liquidations.Inc()
	case settlement.ForceClose:
		e.metrics.ForceCloses.Inc()
	default:
		e.metrics.PositionsClosed.Inc()
	}
	if res.IsBadDebt {
		e.metrics.BadDebt.Inc()
	}

	e.notify(func(o Observer) {
		o.OnSettlement(SettlementEvent{
			Result:   res,
			Owner:    pos.Owner,
			BasktID:  pos.BasktID,
			Now:      now,
			Pool:     e.pool,
			Treasury: e.treasury,
		})
	})
	e.log.Info("position settled",
		zap.String("position", res.PositionID),
		zap.String("class", class.String()),
		zap.Int64("size_closed", res.SizeClosed),
		zap.Int64("user_payout", res.UserPayout),
		zap.Bool("bad_debt", res.IsBadDebt),
	)
	return res, nil
}

// Position returns a copy of an open position.
func (e *Engine) Position(id string) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[id]
	if !ok {
		return position.Position{}, ErrPositionNotFound
	}
	return *pos, nil
}

// OpenPositions returns copies of every open position, for keeper scans.
func (e *Engine) OpenPositions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]position.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// AddCollateral tops up an open position's escrow and collateral.
func (e *Engine) AddCollateral(owner common.Address, positionID string, amount int64) error {
	if amount <= 0 {
		return errors.New("collateral amount must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowAddCollateral {
		return protocol.ErrFeatureDisabled
	}
	pos, ok := e.positions[positionID]
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Owner != owner {
		return access.ErrUnauthorized
	}
	pos.Collateral += amount
	e.escrows[positionID] += amount
	return nil
}

// AddLiquidity credits the shared pool.
func (e *Engine) AddLiquidity(amount int64) error {
	if amount <= 0 {
		return errors.New("liquidity amount must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowAddLiquidity {
		return protocol.ErrFeatureDisabled
	}
	e.pool += amount
	return nil
}

// RemoveLiquidity debits the shared pool, failing when the balance is short.
func (e *Engine) RemoveLiquidity(amount int64) error {
	if amount <= 0 {
		return errors.New("liquidity amount must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowRemoveLiquidity {
		return protocol.ErrFeatureDisabled
	}
	if e.pool < amount {
		return ErrInsufficientLiquidity
	}
	e.pool -= amount
	return nil
}
