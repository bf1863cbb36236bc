package core

import (
	"baskt-core/internal/baskt"
	"baskt-core/internal/position"
	"baskt-core/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
)

// OpenEvent is emitted after a position open has been applied.
type OpenEvent struct {
	Position    position.Position
	OpeningFee  int64
	TreasuryCut int64
	PoolShare   int64
	Now         int64
}

// SettlementEvent is emitted after a close/liquidation/force-close has been
// applied, carrying the full result and the balances after the legs moved.
type SettlementEvent struct {
	Result   settlement.Result
	Owner    common.Address
	BasktID  string
	Now      int64
	Pool     int64
	Treasury int64
}

// IndexEvent is emitted after a funding/borrow index update.
type IndexEvent struct {
	BasktID string
	Indices baskt.MarketIndices
	Now     int64
}

// Observer receives applied engine events. Observers run under the engine
// lock and must not call back into it.
type Observer interface {
	OnOpen(OpenEvent)
	OnSettlement(SettlementEvent)
	OnIndexUpdate(IndexEvent)
}
