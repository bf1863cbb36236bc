package baskt

import (
	"errors"

	"baskt-core/internal/fixedpoint"
)

var ErrFundingRateExceedsMaximum = errors.New("funding rate exceeds maximum")

// MarketIndices tracks the cumulative funding and borrow accrual for one
// baskt. The accrual follows a one-period lag: the rate being replaced, not
// the new rate, is what accrued over the elapsed interval, so the first
// update after initialization (rate 0) never perturbs the indices.
type MarketIndices struct {
	CurrentFundingRateBps  int64
	CurrentBorrowRateBps   int64
	CumulativeFundingIndex int64
	CumulativeBorrowIndex  int64
	LastUpdateTimestamp    int64
}

// NewMarketIndices starts both cumulative indices at exactly IndexPrecision.
func NewMarketIndices(now int64) MarketIndices {
	return MarketIndices{
		CumulativeFundingIndex: fixedpoint.IndexPrecision,
		CumulativeBorrowIndex:  fixedpoint.IndexPrecision,
		LastUpdateTimestamp:    now,
	}
}

// UpdateMarketIndices accrues the previously active rates over the elapsed
// interval and then installs the new rates. Rates are hourly bps; zero and
// negative rates are valid, and a negative rate decreases its index
// monotonically with time. Permitted while the baskt is Active or
// Decommissioning (settlement requires a fresh index inside the grace window).
func (b *Baskt) UpdateMarketIndices(now, newFundingRateBps, newBorrowRateBps, maxFundingRateBps int64) error {
	phase := b.Status.Phase()
	if phase != PhaseActive && phase != PhaseDecommissioning {
		return ErrInvalidBasktState
	}
	if abs64(newFundingRateBps) > maxFundingRateBps || abs64(newBorrowRateBps) > maxFundingRateBps {
		return ErrFundingRateExceedsMaximum
	}
	idx := &b.Indices
	elapsed := now - idx.LastUpdateTimestamp
	if elapsed < 0 {
		return errors.New("index update timestamp went backwards")
	}
	fundingNext, err := accrue(idx.CumulativeFundingIndex, idx.CurrentFundingRateBps, elapsed)
	if err != nil {
		return err
	}
	borrowNext, err := accrue(idx.CumulativeBorrowIndex, idx.CurrentBorrowRateBps, elapsed)
	if err != nil {
		return err
	}
	idx.CumulativeFundingIndex = fundingNext
	idx.CumulativeBorrowIndex = borrowNext
	idx.CurrentFundingRateBps = newFundingRateBps
	idx.CurrentBorrowRateBps = newBorrowRateBps
	idx.LastUpdateTimestamp = now
	return nil
}

// accrue applies index += index * rateBps * elapsed / (BpsDivisor * SecondsPerHour).
func accrue(index, rateBps, elapsed int64) (int64, error) {
	if rateBps == 0 || elapsed == 0 {
		return index, nil
	}
	scaled, err := fixedpoint.Mul(rateBps, elapsed)
	if err != nil {
		return 0, err
	}
	delta, err := fixedpoint.MulDiv(index, scaled, fixedpoint.BpsDivisor*fixedpoint.SecondsPerHour)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Add(index, delta)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// RebalanceFeeIndex is a second cumulative track: a per-unit-notional bps
// amount added on every rebalance and charged in full at a position's next
// close regardless of how much size is closed.
type RebalanceFeeIndex struct {
	CumulativeIndex int64
}

func (r *RebalanceFeeIndex) Bump(feePerUnit int64) {
	if feePerUnit <= 0 {
		return
	}
	r.CumulativeIndex += feePerUnit
}
