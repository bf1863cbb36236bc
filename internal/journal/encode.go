// Package journal records every value-moving engine event as a
// deterministically encoded msgpack entry. Field order is fixed by explicit
// encoder calls, so identical records always produce identical bytes and the
// journal can be replayed and hashed anywhere.
package journal

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	KindOpen       = "open"
	KindSettlement = "settlement"
)

// Record is one journal entry. Open entries use the opening-fee fields;
// settlement entries use the settlement fields.
type Record struct {
	Kind       string
	Seq        uint64
	Now        int64
	PositionID string
	BasktID    string
	Owner      string

	// Open fields.
	Size        int64
	Collateral  int64
	EntryPrice  int64
	OpeningFee  int64
	TreasuryCut int64
	PoolShare   int64

	// Settlement fields.
	Class           string
	SizeClosed      int64
	SizePct         int64
	ExitPrice       int64
	Pnl             int64
	FundingAccrued  int64
	BorrowAccrued   int64
	ClosingFee      int64
	RebalanceFee    int64
	CollateralShare int64
	UserPayout      int64
	TreasuryFee     int64
	PoolDelta       int64
	IsBadDebt       bool
	FullClose       bool
}

// Encode writes a record with a fixed field order.
func Encode(rec Record) ([]byte, error) {
	if rec.Kind != KindOpen && rec.Kind != KindSettlement {
		return nil, fmt.Errorf("unknown journal record kind %q", rec.Kind)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	fields := commonFields(rec)
	switch rec.Kind {
	case KindOpen:
		fields = append(fields,
			field{"size", rec.Size},
			field{"collateral", rec.Collateral},
			field{"entry_price", rec.EntryPrice},
			field{"opening_fee", rec.OpeningFee},
			field{"treasury_cut", rec.TreasuryCut},
			field{"pool_share", rec.PoolShare},
		)
	case KindSettlement:
		fields = append(fields,
			field{"class", rec.Class},
			field{"size_closed", rec.SizeClosed},
			field{"size_pct", rec.SizePct},
			field{"exit_price", rec.ExitPrice},
			field{"pnl", rec.Pnl},
			field{"funding_accrued", rec.FundingAccrued},
			field{"borrow_accrued", rec.BorrowAccrued},
			field{"closing_fee", rec.ClosingFee},
			field{"rebalance_fee", rec.RebalanceFee},
			field{"collateral_share", rec.CollateralShare},
			field{"user_payout", rec.UserPayout},
			field{"treasury_fee", rec.TreasuryFee},
			field{"pool_delta", rec.PoolDelta},
			field{"is_bad_debt", rec.IsBadDebt},
			field{"full_close", rec.FullClose},
		)
	}

	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return nil, err
		}
		if err := encodeValue(enc, f.value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type field struct {
	key   string
	value any
}

func commonFields(rec Record) []field {
	return []field{
		{"kind", rec.Kind},
		{"seq", rec.Seq},
		{"now", rec.Now},
		{"position", rec.PositionID},
		{"baskt", rec.BasktID},
		{"owner", rec.Owner},
	}
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch val := v.(type) {
	case string:
		return enc.EncodeString(val)
	case int64:
		return enc.EncodeInt(val)
	case uint64:
		return enc.EncodeUint(val)
	case bool:
		return enc.EncodeBool(val)
	default:
		return fmt.Errorf("unsupported journal field type %T", v)
	}
}

// Decode reads a record back from its encoded form.
func Decode(data []byte) (Record, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Record{}, err
	}
	var rec Record
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return Record{}, err
		}
		if err := decodeField(dec, &rec, key); err != nil {
			return Record{}, fmt.Errorf("journal field %s: %w", key, err)
		}
	}
	if rec.Kind == "" {
		return Record{}, errors.New("journal record missing kind")
	}
	return rec, nil
}

func decodeField(dec *msgpack.Decoder, rec *Record, key string) error {
	var err error
	switch key {
	case "kind":
		rec.Kind, err = dec.DecodeString()
	case "seq":
		rec.Seq, err = dec.DecodeUint64()
	case "now":
		rec.Now, err = dec.DecodeInt64()
	case "position":
		rec.PositionID, err = dec.DecodeString()
	case "baskt":
		rec.BasktID, err = dec.DecodeString()
	case "owner":
		rec.Owner, err = dec.DecodeString()
	case "size":
		rec.Size, err = dec.DecodeInt64()
	case "collateral":
		rec.Collateral, err = dec.DecodeInt64()
	case "entry_price":
		rec.EntryPrice, err = dec.DecodeInt64()
	case "opening_fee":
		rec.OpeningFee, err = dec.DecodeInt64()
	case "treasury_cut":
		rec.TreasuryCut, err = dec.DecodeInt64()
	case "pool_share":
		rec.PoolShare, err = dec.DecodeInt64()
	case "class":
		rec.Class, err = dec.DecodeString()
	case "size_closed":
		rec.SizeClosed, err = dec.DecodeInt64()
	case "size_pct":
		rec.SizePct, err = dec.DecodeInt64()
	case "exit_price":
		rec.ExitPrice, err = dec.DecodeInt64()
	case "pnl":
		rec.Pnl, err = dec.DecodeInt64()
	case "funding_accrued":
		rec.FundingAccrued, err = dec.DecodeInt64()
	case "borrow_accrued":
		rec.BorrowAccrued, err = dec.DecodeInt64()
	case "closing_fee":
		rec.ClosingFee, err = dec.DecodeInt64()
	case "rebalance_fee":
		rec.RebalanceFee, err = dec.DecodeInt64()
	case "collateral_share":
		rec.CollateralShare, err = dec.DecodeInt64()
	case "user_payout":
		rec.UserPayout, err = dec.DecodeInt64()
	case "treasury_fee":
		rec.TreasuryFee, err = dec.DecodeInt64()
	case "pool_delta":
		rec.PoolDelta, err = dec.DecodeInt64()
	case "is_bad_debt":
		rec.IsBadDebt, err = dec.DecodeBool()
	case "full_close":
		rec.FullClose, err = dec.DecodeBool()
	default:
		return dec.Skip()
	}
	return err
}
