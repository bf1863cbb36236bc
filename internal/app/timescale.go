package app

import (
	"time"

	"baskt-core/internal/core"
	"baskt-core/internal/timescale"
)

// timescaleObserver forwards applied engine events to the async writer.
type timescaleObserver struct {
	writer *timescale.Writer
}

func newTimescaleObserver(writer *timescale.Writer) *timescaleObserver {
	return &timescaleObserver{writer: writer}
}

func (t *timescaleObserver) OnOpen(core.OpenEvent) {}

func (t *timescaleObserver) OnSettlement(ev core.SettlementEvent) {
	res := ev.Result
	t.writer.EnqueueSettlement(timescale.SettlementRow{
		Time:            time.Unix(ev.Now, 0).UTC(),
		BasktID:         ev.BasktID,
		PositionID:      res.PositionID,
		Owner:           ev.Owner.Hex(),
		Class:           res.Class.String(),
		SizeClosed:      res.SizeClosed,
		ExitPrice:       res.ExitPrice,
		Pnl:             res.Pnl,
		FundingAccrued:  res.FundingAccrued,
		BorrowAccrued:   res.BorrowAccrued,
		ClosingFee:      res.ClosingFee,
		RebalanceFee:    res.RebalanceFee,
		CollateralShare: res.CollateralShare,
		UserPayout:      res.UserPayout,
		TreasuryFee:     res.TreasuryFee,
		PoolDelta:       res.PoolDelta,
		IsBadDebt:       res.IsBadDebt,
		FullClose:       res.FullClose,
	})
}

func (t *timescaleObserver) OnIndexUpdate(ev core.IndexEvent) {
	t.writer.EnqueueIndex(timescale.IndexRow{
		Time:                   time.Unix(ev.Now, 0).UTC(),
		BasktID:                ev.BasktID,
		CumulativeFundingIndex: ev.Indices.CumulativeFundingIndex,
		CumulativeBorrowIndex:  ev.Indices.CumulativeBorrowIndex,
		FundingRateBps:         ev.Indices.CurrentFundingRateBps,
		BorrowRateBps:          ev.Indices.CurrentBorrowRateBps,
	})
}
