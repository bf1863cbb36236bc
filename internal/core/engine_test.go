package core

import (
	"errors"
	"testing"

	"baskt-core/internal/access"
	"baskt-core/internal/baskt"
	"baskt-core/internal/position"
	"baskt-core/internal/protocol"
	"baskt-core/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
)

var (
	admin      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	matcher    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	liquidator = common.HexToAddress("0x3333333333333333333333333333333333333333")
	trader     = common.HexToAddress("0x4444444444444444444444444444444444444444")
	stranger   = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	roles := access.NewRegistry()
	roles.Grant(admin, access.RoleConfigManager|access.RoleAssetManager|access.RoleBasktManager|access.RoleOracleManager|access.RoleFundingManager)
	roles.Grant(matcher, access.RoleMatcher)
	roles.Grant(liquidator, access.RoleLiquidator)
	e, err := New(protocol.Default(), roles, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func setupActiveBaskt(t *testing.T, e *Engine, id string) {
	t.Helper()
	for _, asset := range []baskt.Asset{
		{ID: "AAA", AllowLong: true, AllowShort: true},
		{ID: "BBB", AllowLong: true, AllowShort: true},
	} {
		if err := e.UpsertAsset(admin, asset); err != nil {
			t.Fatalf("upsert %s: %v", asset.ID, err)
		}
	}
	assets := []baskt.AssetConfig{
		{AssetID: "AAA", WeightBps: 6_000, Direction: baskt.Long},
		{AssetID: "BBB", WeightBps: 4_000, Direction: baskt.Short},
	}
	if _, err := e.CreateBaskt(trader, id, true, assets, 1_000); err != nil {
		t.Fatalf("create baskt: %v", err)
	}
	prices := map[string]int64{"AAA": 1_000_000, "BBB": 1_000_000}
	if err := e.ActivateBaskt(id, prices, 1_000); err != nil {
		t.Fatalf("activate baskt: %v", err)
	}
}

func openTestPosition(t *testing.T, e *Engine, basktID string) *position.Position {
	t.Helper()
	order := position.Order{
		ID:         "open-1",
		Owner:      trader,
		BasktID:    basktID,
		Action:     position.ActionOpen,
		Size:       10_000_000,
		Collateral: 10_100_000,
		Direction:  baskt.Long,
	}
	if err := e.PlaceOrder(order); err != nil {
		t.Fatalf("place order: %v", err)
	}
	pos, err := e.OpenPosition(matcher, order.ID, 1_000_000, 1_000_000, 2_000)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestOpenAndCloseRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")
	if err := e.AddLiquidity(100_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	pos := openTestPosition(t, e, "b1")
	if pos.Size != 10_000_000 || pos.Collateral != 10_090_000 {
		t.Fatalf("unexpected position: size=%d collateral=%d", pos.Size, pos.Collateral)
	}
	// Escrow holds the net collateral; the 10_000 opening fee was split 30/70.
	if bal, ok := e.Escrow(pos.ID); !ok || bal != 10_090_000 {
		t.Fatalf("escrow = %d (%v), want 10090000", bal, ok)
	}
	pool, treasury := e.Balances()
	if treasury != 3_000 {
		t.Fatalf("treasury = %d, want 3000", treasury)
	}
	if pool != 100_007_000 {
		t.Fatalf("pool = %d, want 100007000", pool)
	}
	b, err := e.Baskt("b1")
	if err != nil || b.OpenPositions != 1 {
		t.Fatalf("open positions = %d (%v), want 1", b.OpenPositions, err)
	}

	// Install 100 bps funding, then accrue it over one hour.
	if err := e.UpdateMarketIndices(admin, "b1", 100, 0, 2_000+3_600); err != nil {
		t.Fatalf("first index update: %v", err)
	}
	if err := e.UpdateMarketIndices(admin, "b1", 0, 0, 2_000+7_200); err != nil {
		t.Fatalf("second index update: %v", err)
	}

	closeOrder := position.Order{
		ID:             "close-1",
		Owner:          trader,
		BasktID:        "b1",
		Action:         position.ActionClose,
		Size:           pos.Size,
		TargetPosition: pos.ID,
	}
	if err := e.PlaceOrder(closeOrder); err != nil {
		t.Fatalf("place close order: %v", err)
	}
	res, err := e.ClosePosition(matcher, closeOrder.ID, 1_000_000, 10_000)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if res.FundingAccrued != 100_000 {
		t.Fatalf("funding accrued = %d, want 100000", res.FundingAccrued)
	}
	if res.UserPayout != 9_980_000 {
		t.Fatalf("payout = %d, want 9980000", res.UserPayout)
	}

	if _, err := e.Position(pos.ID); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("position must be deleted after full close, got %v", err)
	}
	if _, ok := e.Escrow(pos.ID); ok {
		t.Fatalf("escrow must be released after full close")
	}
	pool, treasury = e.Balances()
	if treasury != 6_000 {
		t.Fatalf("treasury = %d, want 6000", treasury)
	}
	if pool != 100_114_000 {
		t.Fatalf("pool = %d, want 100114000", pool)
	}
	b, _ = e.Baskt("b1")
	if b.OpenPositions != 0 {
		t.Fatalf("open positions = %d, want 0", b.OpenPositions)
	}
}

func TestFeatureFlagGating(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")

	cfg := e.Config()
	cfg.Features.AllowTrading = false
	if err := e.UpdateConfig(admin, cfg, 5_000); err != nil {
		t.Fatalf("update config: %v", err)
	}

	order := position.Order{
		ID: "o1", Owner: trader, BasktID: "b1",
		Action: position.ActionOpen, Size: 10_000_000, Collateral: 10_100_000,
		Direction: baskt.Long,
	}
	if err := e.PlaceOrder(order); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if _, err := e.OpenPosition(matcher, order.ID, 1_000_000, 1_000_000, 5_000); !errors.Is(err, protocol.ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}

	cfg.Features.AllowTrading = true
	cfg.Features.AllowAddLiquidity = false
	if err := e.UpdateConfig(admin, cfg, 5_001); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if err := e.AddLiquidity(1); !errors.Is(err, protocol.ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled for liquidity, got %v", err)
	}
}

func TestRoleGating(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")

	if err := e.UpdateConfig(stranger, protocol.Default(), 0); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown actor, got %v", err)
	}
	if err := e.UpdateConfig(matcher, protocol.Default(), 0); !errors.Is(err, access.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole for matcher, got %v", err)
	}
	if _, err := e.OpenPosition(liquidator, "o1", 1, 1, 0); !errors.Is(err, access.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole for liquidator matching, got %v", err)
	}
	if _, err := e.LiquidatePosition(matcher, "pos-1", 1, 0); !errors.Is(err, access.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole for matcher liquidating, got %v", err)
	}
}

func TestDuplicateRecordsRejected(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")

	assets := []baskt.AssetConfig{{AssetID: "AAA", WeightBps: 10_000, Direction: baskt.Long}}
	if _, err := e.CreateBaskt(trader, "b1", true, assets, 0); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord for baskt, got %v", err)
	}

	order := position.Order{
		ID: "o1", Owner: trader, BasktID: "b1",
		Action: position.ActionOpen, Size: 1_000_000, Collateral: 2_000_000,
		Direction: baskt.Long,
	}
	if err := e.PlaceOrder(order); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if err := e.PlaceOrder(order); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord for order, got %v", err)
	}
}

func TestLiquidationPath(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")
	if err := e.AddLiquidity(100_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pos := openTestPosition(t, e, "b1")

	// Healthy at entry NAV.
	if _, err := e.LiquidatePosition(liquidator, pos.ID, 1_000_000, 3_000); !errors.Is(err, settlement.ErrPositionNotLiquidatable) {
		t.Fatalf("expected ErrPositionNotLiquidatable, got %v", err)
	}
	// NAV doubles: the notional outgrows the collateral and the ratio falls
	// through the 5000 bps threshold.
	res, err := e.LiquidatePosition(liquidator, pos.ID, 2_100_000, 3_100)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Class != settlement.Liquidation {
		t.Fatalf("class = %v, want liquidation", res.Class)
	}
	if res.UserPayout != 0 {
		t.Fatalf("liquidation payout = %d, want 0", res.UserPayout)
	}
	if _, err := e.Position(pos.ID); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("liquidated position must be removed, got %v", err)
	}
}

func TestForceCloseRequiresWindDown(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")
	if err := e.AddLiquidity(100_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pos := openTestPosition(t, e, "b1")

	if _, err := e.ForceClosePosition(matcher, pos.ID, 1_000_000, 3_000); !errors.Is(err, baskt.ErrPositionsStillOpen) {
		t.Fatalf("expected force close rejected on active baskt, got %v", err)
	}

	if err := e.DecommissionBaskt(admin, "b1", 10_000); err != nil {
		t.Fatalf("decommission: %v", err)
	}
	// Fresh index inside the grace window, settle after it closes.
	if err := e.UpdateMarketIndices(admin, "b1", 0, 0, 96_450); err != nil {
		t.Fatalf("index update: %v", err)
	}
	if err := e.SettleBaskt(admin, "b1", 2_000_000, 96_500); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// The frozen settlement price overrides whatever the caller supplies.
	res, err := e.ForceClosePosition(matcher, pos.ID, 5, 97_000)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if res.ExitPrice != 2_000_000 {
		t.Fatalf("exit price = %d, want frozen 2000000", res.ExitPrice)
	}
	if res.Class != settlement.ForceClose {
		t.Fatalf("class = %v, want force close", res.Class)
	}

	if err := e.CloseBaskt(admin, "b1", 98_000); err != nil {
		t.Fatalf("close baskt: %v", err)
	}
	b, _ := e.Baskt("b1")
	if b.Status.Phase() != baskt.PhaseClosed {
		t.Fatalf("phase = %s, want closed", b.Status.Phase())
	}
}

func TestAddCollateralOwnerOnly(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")
	pos := openTestPosition(t, e, "b1")

	if err := e.AddCollateral(stranger, pos.ID, 1_000); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}
	if err := e.AddCollateral(trader, pos.ID, 1_000); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	got, err := e.Position(pos.ID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if got.Collateral != 10_091_000 {
		t.Fatalf("collateral = %d, want 10091000", got.Collateral)
	}
	if bal, _ := e.Escrow(pos.ID); bal != 10_091_000 {
		t.Fatalf("escrow = %d, want 10091000", bal)
	}
}

func TestRemoveLiquidityBounded(t *testing.T) {
	e := newTestEngine(t)
	if err := e.AddLiquidity(5_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if err := e.RemoveLiquidity(6_000); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if err := e.RemoveLiquidity(5_000); err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	if pool, _ := e.Balances(); pool != 0 {
		t.Fatalf("pool = %d, want 0", pool)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	setupActiveBaskt(t, e, "b1")
	if err := e.AddLiquidity(50_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pos := openTestPosition(t, e, "b1")
	if err := e.DecommissionBaskt(admin, "b1", 10_000); err != nil {
		t.Fatalf("decommission: %v", err)
	}

	state := e.Snapshot()

	restored, err := New(protocol.Default(), access.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := restored.Restore(state); err != nil {
		t.Fatalf("restore: %v", err)
	}

	pool, treasury := restored.Balances()
	if pool != 50_007_000 || treasury != 3_000 {
		t.Fatalf("balances = %d/%d, want 50007000/3000", pool, treasury)
	}
	got, err := restored.Position(pos.ID)
	if err != nil {
		t.Fatalf("restored position: %v", err)
	}
	if got.Size != pos.Size || got.Collateral != pos.Collateral || got.Owner != pos.Owner {
		t.Fatalf("restored position mismatch: %+v", got)
	}
	if bal, ok := restored.Escrow(pos.ID); !ok || bal != pos.Collateral {
		t.Fatalf("restored escrow = %d (%v)", bal, ok)
	}
	b, err := restored.Baskt("b1")
	if err != nil {
		t.Fatalf("restored baskt: %v", err)
	}
	dec, ok := b.Status.(baskt.Decommissioning)
	if !ok || dec.GracePeriodEnd != 10_000+protocol.Default().GracePeriodSec {
		t.Fatalf("restored status %+v", b.Status)
	}
}
