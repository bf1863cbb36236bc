package journal

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"baskt-core/internal/core"
	"baskt-core/internal/ledger"
)

const keyPrefix = "journal:"

// Writer appends records to the ledger under monotonically increasing
// sequence numbers. Keys are zero-padded so lexicographic order equals
// append order.
type Writer struct {
	store ledger.Store

	mu   sync.Mutex
	next uint64
}

func NewWriter(ctx context.Context, store ledger.Store) (*Writer, error) {
	keys, err := store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan journal keys: %w", err)
	}
	w := &Writer{store: store}
	if len(keys) > 0 {
		last := keys[len(keys)-1]
		var seq uint64
		if _, err := fmt.Sscanf(last, keyPrefix+"%d", &seq); err != nil {
			return nil, fmt.Errorf("parse journal key %q: %w", last, err)
		}
		w.next = seq + 1
	}
	return w, nil
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec.Seq = w.next
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%016d", keyPrefix, rec.Seq)
	if err := w.store.Set(ctx, key, hex.EncodeToString(data)); err != nil {
		return fmt.Errorf("append journal record %d: %w", rec.Seq, err)
	}
	w.next++
	return nil
}

// Replay walks every journal record in append order.
func Replay(ctx context.Context, store ledger.Store, fn func(Record) error) error {
	keys, err := store.Keys(ctx, keyPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, ok, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		data, err := hex.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("decode journal entry %s: %w", key, err)
		}
		rec, err := Decode(data)
		if err != nil {
			return fmt.Errorf("decode journal entry %s: %w", key, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Recorder adapts the writer to the engine's observer interface. Append
// failures are logged, never propagated: the engine state is authoritative
// and a journal gap is an operational problem, not a trading one.
type Recorder struct {
	writer *Writer
	log    *zap.Logger
}

func NewRecorder(writer *Writer, log *zap.Logger) *Recorder {
	return &Recorder{writer: writer, log: log}
}

func (r *Recorder) OnOpen(ev core.OpenEvent) {
	rec := Record{
		Kind:        KindOpen,
		Now:         ev.Now,
		PositionID:  ev.Position.ID,
		BasktID:     ev.Position.BasktID,
		Owner:       ev.Position.Owner.Hex(),
		Size:        ev.Position.Size,
		Collateral:  ev.Position.Collateral,
		EntryPrice:  ev.Position.EntryPrice,
		OpeningFee:  ev.OpeningFee,
		TreasuryCut: ev.TreasuryCut,
		PoolShare:   ev.PoolShare,
	}
	if err := r.writer.Append(context.Background(), rec); err != nil {
		r.log.Error("journal open append failed", zap.String("position", rec.PositionID), zap.Error(err))
	}
}

func (r *Recorder) OnSettlement(ev core.SettlementEvent) {
	res := ev.Result
	rec := Record{
		Kind:            KindSettlement,
		Now:             ev.Now,
		PositionID:      res.PositionID,
		BasktID:         ev.BasktID,
		Owner:           ev.Owner.Hex(),
		Class:           res.Class.String(),
		SizeClosed:      res.SizeClosed,
		SizePct:         res.SizePct,
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
	}
	if err := r.writer.Append(context.Background(), rec); err != nil {
		r.log.Error("journal settlement append failed", zap.String("position", rec.PositionID), zap.Error(err))
	}
}

func (r *Recorder) OnIndexUpdate(core.IndexEvent) {}

// Verify replays the journal and checks settlement conservation: the user
// payout, treasury fee and pool delta of every settlement must sum to the
// collateral share released from escrow.
func Verify(ctx context.Context, store ledger.Store) (int, error) {
	count := 0
	err := Replay(ctx, store, func(rec Record) error {
		count++
		if rec.Kind != KindSettlement {
			return nil
		}
		if rec.UserPayout+rec.TreasuryFee+rec.PoolDelta != rec.CollateralShare {
			return fmt.Errorf("journal record %d violates conservation: payout %d + treasury %d + pool %d != share %d",
				rec.Seq, rec.UserPayout, rec.TreasuryFee, rec.PoolDelta, rec.CollateralShare)
		}
		return nil
	})
	return count, err
}
