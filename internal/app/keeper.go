package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"baskt-core/internal/oracle"
	"baskt-core/internal/protocol"
	"baskt-core/internal/settlement"

	"go.uber.org/zap"
)

// keeperLoop scans every open position on an interval and liquidates the
// ones whose collateral ratio has fallen to the threshold at the current
// oracle NAV.
func (a *App) keeperLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Keeper.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.keeperScan(ctx)
		}
	}
}

func (a *App) keeperScan(ctx context.Context) {
	now := time.Now().Unix()
	for _, pos := range a.engine.OpenPositions() {
		nav, err := a.feed.Nav(pos.BasktID)
		if err != nil {
			if !errors.Is(err, oracle.ErrNoQuote) {
				a.log.Warn("keeper nav lookup failed", zap.String("baskt", pos.BasktID), zap.Error(err))
			}
			continue
		}
		res, err := a.engine.LiquidatePosition(a.liquidator, pos.ID, nav, now)
		if err != nil {
			if errors.Is(err, settlement.ErrPositionNotLiquidatable) || errors.Is(err, protocol.ErrFeatureDisabled) {
				continue
			}
			a.log.Warn("liquidation failed", zap.String("position", pos.ID), zap.Error(err))
			continue
		}
		a.log.Info("position liquidated",
			zap.String("position", pos.ID),
			zap.String("baskt", pos.BasktID),
			zap.Int64("nav", nav),
			zap.Int64("pool_delta", res.PoolDelta),
			zap.Bool("bad_debt", res.IsBadDebt),
		)
		if err := a.alerts.Send(ctx, fmt.Sprintf("Liquidated %s on %s at nav %s (bad debt: %t)",
			pos.ID, pos.BasktID, oracle.FormatPrice(nav), res.IsBadDebt)); err != nil {
			a.log.Warn("alert send failed", zap.Error(err))
		}
	}
}
