package position

import (
	"errors"
	"testing"

	"baskt-core/internal/baskt"
	"baskt-core/internal/fixedpoint"
	"baskt-core/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

var owner = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

func testBaskt() *baskt.Baskt {
	return &baskt.Baskt{
		ID:      "b1",
		Indices: baskt.NewMarketIndices(0),
		Status:  baskt.Active{},
	}
}

func openOrder(notional, collateral int64) Order {
	return Order{
		ID:         "o1",
		Owner:      owner,
		BasktID:    "b1",
		Action:     ActionOpen,
		Size:       notional,
		Collateral: collateral,
		Direction:  baskt.Long,
	}
}

func TestOpenComputesSizeAndFee(t *testing.T) {
	cfg := protocol.Default()
	order := openOrder(10_000_000, 10_100_000)
	pos, fee, err := Open(&cfg, order, 1_000_000, testBaskt(), "pos-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Notional 10.0 at NAV 1.0 buys 10.0 contracts.
	if pos.Size != 10_000_000 {
		t.Fatalf("size = %d, want 10000000", pos.Size)
	}
	// 10 bps of 10.0 notional.
	if fee != 10_000 {
		t.Fatalf("opening fee = %d, want 10000", fee)
	}
	if pos.Collateral != 10_090_000 {
		t.Fatalf("net collateral = %d, want 10090000", pos.Collateral)
	}
	if pos.EntryFundingIndex != fixedpoint.IndexPrecision || pos.LastFundingIndex != fixedpoint.IndexPrecision {
		t.Fatalf("funding indices not stamped: %+v", pos)
	}
	if pos.Status != StatusOpen {
		t.Fatalf("expected open status")
	}
}

func TestOpenAtHigherEntryPriceBuysFewerContracts(t *testing.T) {
	cfg := protocol.Default()
	order := openOrder(10_000_000, 20_000_000)
	pos, _, err := Open(&cfg, order, 2_000_000, testBaskt(), "pos-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos.Size != 5_000_000 {
		t.Fatalf("size = %d, want 5000000", pos.Size)
	}
}

func TestOpenZeroSizedPosition(t *testing.T) {
	cfg := protocol.Default()
	order := openOrder(1, 10_000_000)
	if _, _, err := Open(&cfg, order, 2_000_000, testBaskt(), "pos-1"); !errors.Is(err, ErrZeroSizedPosition) {
		t.Fatalf("expected ErrZeroSizedPosition, got %v", err)
	}
}

func TestOpenInsufficientCollateral(t *testing.T) {
	cfg := protocol.Default()
	// Exactly the required ratio before the fee; the fee pushes it under.
	order := openOrder(10_000_000, 10_000_000)
	if _, _, err := Open(&cfg, order, 1_000_000, testBaskt(), "pos-1"); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestValidateEntryPriceDeviation(t *testing.T) {
	cfg := protocol.Default() // 100 bps max deviation
	order := openOrder(10_000_000, 20_000_000)
	if err := ValidateEntryPrice(&cfg, order, 1_010_000, 1_000_000); err != nil {
		t.Fatalf("entry at the deviation edge must pass: %v", err)
	}
	if err := ValidateEntryPrice(&cfg, order, 1_010_001, 1_000_000); !errors.Is(err, ErrPriceOutOfBounds) {
		t.Fatalf("expected ErrPriceOutOfBounds, got %v", err)
	}
	if err := ValidateEntryPrice(&cfg, order, 990_000, 1_000_000); err != nil {
		t.Fatalf("entry at the lower edge must pass: %v", err)
	}
	if err := ValidateEntryPrice(&cfg, order, 0, 1_000_000); !errors.Is(err, ErrInvalidOraclePrice) {
		t.Fatalf("expected ErrInvalidOraclePrice, got %v", err)
	}
}

func TestValidateEntryPriceLimitBand(t *testing.T) {
	cfg := protocol.Default()
	order := openOrder(10_000_000, 20_000_000)
	order.Type = Limit
	order.LimitPrice = 1_000_000
	order.MaxSlippageBps = 50
	if err := ValidateEntryPrice(&cfg, order, 1_005_000, 1_000_000); err != nil {
		t.Fatalf("entry inside slippage band must pass: %v", err)
	}
	if err := ValidateEntryPrice(&cfg, order, 1_005_001, 1_000_000); !errors.Is(err, ErrPriceOutOfBounds) {
		t.Fatalf("expected ErrPriceOutOfBounds outside band, got %v", err)
	}
	order.LimitPrice = 0
	if err := ValidateEntryPrice(&cfg, order, 1_000_000, 1_000_000); !errors.Is(err, ErrInvalidOraclePrice) {
		t.Fatalf("expected ErrInvalidOraclePrice for missing limit, got %v", err)
	}
}

func TestScaleDownProportional(t *testing.T) {
	pos := &Position{Size: 10_000_000, Collateral: 10_090_000, FundingAccumulated: 400, BorrowAccumulated: 100}
	share, err := pos.ScaleDown(5_000_000, 5_000)
	if err != nil {
		t.Fatalf("scale down: %v", err)
	}
	if share != 5_045_000 {
		t.Fatalf("collateral share = %d, want 5045000", share)
	}
	if pos.Size != 5_000_000 || pos.Collateral != 5_045_000 {
		t.Fatalf("unexpected remainder: size=%d collateral=%d", pos.Size, pos.Collateral)
	}
	if pos.FundingAccumulated != 200 || pos.BorrowAccumulated != 50 {
		t.Fatalf("accumulators not scaled: funding=%d borrow=%d", pos.FundingAccumulated, pos.BorrowAccumulated)
	}
}

func TestScaleDownRejectsOversize(t *testing.T) {
	pos := &Position{Size: 100, Collateral: 100}
	if _, err := pos.ScaleDown(101, 10_000); !errors.Is(err, ErrInvalidPositionSize) {
		t.Fatalf("expected ErrInvalidPositionSize, got %v", err)
	}
}
