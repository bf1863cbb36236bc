package baskt

import (
	"errors"
	"testing"

	"baskt-core/internal/fixedpoint"

	"github.com/ethereum/go-ethereum/common"
)

var creator = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

func testRegistry(t *testing.T) *AssetRegistry {
	t.Helper()
	reg := NewAssetRegistry()
	for _, asset := range []Asset{
		{ID: "AAA", AllowLong: true, AllowShort: true},
		{ID: "BBB", AllowLong: true, AllowShort: true},
		{ID: "LONGONLY", AllowLong: true},
	} {
		if err := reg.Upsert(asset); err != nil {
			t.Fatalf("upsert %s: %v", asset.ID, err)
		}
	}
	return reg
}

func twoAssetConfig() []AssetConfig {
	return []AssetConfig{
		{AssetID: "AAA", WeightBps: 6_000, Direction: Long},
		{AssetID: "BBB", WeightBps: 4_000, Direction: Short},
	}
}

func TestNewRejectsBadWeights(t *testing.T) {
	reg := testRegistry(t)
	assets := []AssetConfig{
		{AssetID: "AAA", WeightBps: 6_000, Direction: Long},
		{AssetID: "BBB", WeightBps: 3_000, Direction: Short},
	}
	if _, err := New("b1", creator, true, assets, reg, 0); !errors.Is(err, ErrInvalidAssetWeights) {
		t.Fatalf("expected ErrInvalidAssetWeights, got %v", err)
	}
}

func TestNewRejectsDisabledDirection(t *testing.T) {
	reg := testRegistry(t)
	assets := []AssetConfig{
		{AssetID: "LONGONLY", WeightBps: 10_000, Direction: Short},
	}
	if _, err := New("b1", creator, true, assets, reg, 0); !errors.Is(err, ErrShortPositionsDisabled) {
		t.Fatalf("expected ErrShortPositionsDisabled, got %v", err)
	}
}

func TestNewRejectsUnknownAsset(t *testing.T) {
	reg := testRegistry(t)
	assets := []AssetConfig{
		{AssetID: "NOPE", WeightBps: 10_000, Direction: Long},
	}
	if _, err := New("b1", creator, true, assets, reg, 0); !errors.Is(err, ErrInvalidBasktConfig) {
		t.Fatalf("expected ErrInvalidBasktConfig, got %v", err)
	}
}

func TestActivateComputesBaselineNav(t *testing.T) {
	reg := testRegistry(t)
	b, err := New("b1", creator, true, twoAssetConfig(), reg, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if b.Status.Phase() != PhasePending {
		t.Fatalf("expected pending, got %s", b.Status.Phase())
	}
	prices := map[string]int64{"AAA": 2_000_000, "BBB": 500_000}
	if err := b.Activate(prices); err != nil {
		t.Fatalf("activate: %v", err)
	}
	// 2.0*0.6 + 0.5*0.4 = 1.4
	if b.BaselineNav != 1_400_000 {
		t.Fatalf("baseline nav = %d, want 1400000", b.BaselineNav)
	}
	if b.Status.Phase() != PhaseActive {
		t.Fatalf("expected active, got %s", b.Status.Phase())
	}
}

func TestActivateRequiresAllPrices(t *testing.T) {
	reg := testRegistry(t)
	b, _ := New("b1", creator, true, twoAssetConfig(), reg, 0)
	err := b.Activate(map[string]int64{"AAA": 2_000_000})
	if !errors.Is(err, ErrInvalidBasktConfig) {
		t.Fatalf("expected ErrInvalidBasktConfig, got %v", err)
	}
	if b.Status.Phase() != PhasePending {
		t.Fatalf("failed activation must not transition")
	}
}

func activeBaskt(t *testing.T) *Baskt {
	t.Helper()
	reg := testRegistry(t)
	b, err := New("b1", creator, true, twoAssetConfig(), reg, 1_000)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Activate(map[string]int64{"AAA": 1_000_000, "BBB": 1_000_000}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return b
}

func TestLifecycleHappyPath(t *testing.T) {
	b := activeBaskt(t)
	if err := b.Decommission(2_000, 600); err != nil {
		t.Fatalf("decommission: %v", err)
	}
	dec, ok := b.Status.(Decommissioning)
	if !ok || dec.GracePeriodEnd != 2_600 {
		t.Fatalf("unexpected decommissioning status %+v", b.Status)
	}

	// Settle before the window closes.
	if err := b.Settle(2_500, 1_100_000); !errors.Is(err, ErrGracePeriodNotOver) {
		t.Fatalf("expected ErrGracePeriodNotOver, got %v", err)
	}
	// After the window but with a stale index.
	if err := b.Settle(2_700, 1_100_000); !errors.Is(err, ErrStaleFundingIndex) {
		t.Fatalf("expected ErrStaleFundingIndex, got %v", err)
	}
	if err := b.UpdateMarketIndices(2_650, 0, 0, 1_000); err != nil {
		t.Fatalf("index update during grace: %v", err)
	}
	if err := b.Settle(2_700, 1_100_000); err != nil {
		t.Fatalf("settle: %v", err)
	}
	settled, ok := b.Status.(Settled)
	if !ok || settled.SettlementPrice != 1_100_000 {
		t.Fatalf("unexpected settled status %+v", b.Status)
	}

	b.OpenPositions = 1
	if err := b.Close(3_000); !errors.Is(err, ErrPositionsStillOpen) {
		t.Fatalf("expected ErrPositionsStillOpen, got %v", err)
	}
	b.OpenPositions = 0
	if err := b.Close(3_000); err != nil {
		t.Fatalf("close: %v", err)
	}
	closed, ok := b.Status.(Closed)
	if !ok || closed.FinalNav != 1_100_000 || closed.ClosedAt != 3_000 {
		t.Fatalf("unexpected closed status %+v", b.Status)
	}
}

func TestInvalidTransitions(t *testing.T) {
	reg := testRegistry(t)
	b, _ := New("b1", creator, true, twoAssetConfig(), reg, 0)
	if err := b.Decommission(0, 600); !errors.Is(err, ErrInvalidBasktState) {
		t.Fatalf("pending baskt must not decommission, got %v", err)
	}
	if err := b.Settle(0, 1); !errors.Is(err, ErrInvalidBasktState) {
		t.Fatalf("pending baskt must not settle, got %v", err)
	}
	if err := b.Close(0); !errors.Is(err, ErrInvalidBasktState) {
		t.Fatalf("pending baskt must not close, got %v", err)
	}
}

func TestRebalanceActiveOnly(t *testing.T) {
	b := activeBaskt(t)
	reg := testRegistry(t)
	next := []AssetConfig{
		{AssetID: "AAA", WeightBps: 10_000, Direction: Long, BaselinePrice: 2_000_000},
	}
	if err := b.Rebalance(next, 5, reg); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if b.BaselineNav != 2_000_000 {
		t.Fatalf("baseline nav = %d, want 2000000", b.BaselineNav)
	}
	if b.RebalanceFee.CumulativeIndex != 5 {
		t.Fatalf("rebalance index = %d, want 5", b.RebalanceFee.CumulativeIndex)
	}
	if err := b.Rebalance(next, 5, reg); err != nil {
		t.Fatalf("second rebalance: %v", err)
	}
	if b.RebalanceFee.CumulativeIndex != 10 {
		t.Fatalf("rebalance index = %d, want 10", b.RebalanceFee.CumulativeIndex)
	}

	if err := b.Decommission(1, 600); err != nil {
		t.Fatalf("decommission: %v", err)
	}
	if err := b.Rebalance(next, 5, reg); !errors.Is(err, ErrInvalidBasktState) {
		t.Fatalf("expected ErrInvalidBasktState after decommission, got %v", err)
	}
}

func TestRebalanceRejectsBadConfig(t *testing.T) {
	b := activeBaskt(t)
	reg := testRegistry(t)
	bad := []AssetConfig{
		{AssetID: "AAA", WeightBps: 9_000, Direction: Long, BaselinePrice: 1_000_000},
	}
	if err := b.Rebalance(bad, 0, reg); !errors.Is(err, ErrInvalidAssetWeights) {
		t.Fatalf("expected ErrInvalidAssetWeights, got %v", err)
	}
	if b.RebalanceFee.CumulativeIndex != 0 {
		t.Fatalf("failed rebalance must not bump the fee index")
	}
}

func TestIndicesStartAtPrecision(t *testing.T) {
	idx := NewMarketIndices(42)
	if idx.CumulativeFundingIndex != fixedpoint.IndexPrecision {
		t.Fatalf("funding index = %d, want %d", idx.CumulativeFundingIndex, fixedpoint.IndexPrecision)
	}
	if idx.CumulativeBorrowIndex != fixedpoint.IndexPrecision {
		t.Fatalf("borrow index = %d, want %d", idx.CumulativeBorrowIndex, fixedpoint.IndexPrecision)
	}
	if idx.LastUpdateTimestamp != 42 {
		t.Fatalf("timestamp = %d, want 42", idx.LastUpdateTimestamp)
	}
}
