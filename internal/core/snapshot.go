package core

import (
	"fmt"
	"sort"

	"baskt-core/internal/baskt"
	"baskt-core/internal/position"
	"baskt-core/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// State is the full serializable engine state, used for snapshot persistence
// and restart recovery. Baskt statuses are flattened with a phase tag.
type State struct {
	Config    protocol.Config     `json:"config"`
	Pool      int64               `json:"pool"`
	Treasury  int64               `json:"treasury"`
	Seq       uint64              `json:"seq"`
	Baskts    []BasktState        `json:"baskts"`
	Orders    []position.Order    `json:"orders"`
	Positions []position.Position `json:"positions"`
	Escrows   map[string]int64    `json:"escrows"`
}

type BasktState struct {
	ID             string              `json:"id"`
	Creator        common.Address      `json:"creator"`
	Public         bool                `json:"public"`
	Assets         []baskt.AssetConfig `json:"assets"`
	BaselineNav    int64               `json:"baseline_nav"`
	Indices        baskt.MarketIndices `json:"indices"`
	RebalanceIndex int64               `json:"rebalance_index"`
	OpenPositions  int                 `json:"open_positions"`
	Phase          string              `json:"phase"`

	InitiatedAt            int64 `json:"initiated_at,omitempty"`
	GracePeriodEnd         int64 `json:"grace_period_end,omitempty"`
	SettlementPrice        int64 `json:"settlement_price,omitempty"`
	SettlementFundingIndex int64 `json:"settlement_funding_index,omitempty"`
	FinalNav               int64 `json:"final_nav,omitempty"`
	ClosedAt               int64 `json:"closed_at,omitempty"`
}

// Snapshot copies the engine state. Slices are ordered by id so snapshots of
// identical state are byte-identical after encoding.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := State{
		Config:   e.cfg,
		Pool:     e.pool,
		Treasury: e.treasury,
		Seq:      e.seq,
		Escrows:  make(map[string]int64, len(e.escrows)),
	}
	for id, bal := range e.escrows {
		state.Escrows[id] = bal
	}
	for _, b := range e.baskts {
		state.Baskts = append(state.Baskts, flattenBaskt(b))
	}
	sort.Slice(state.Baskts, func(i, j int) bool { return state.Baskts[i].ID < state.Baskts[j].ID })
	for _, order := range e.orders {
		state.Orders = append(state.Orders, *order)
	}
	sort.Slice(state.Orders, func(i, j int) bool { return state.Orders[i].ID < state.Orders[j].ID })
	for _, pos := range e.positions {
		state.Positions = append(state.Positions, *pos)
	}
	sort.Slice(state.Positions, func(i, j int) bool { return state.Positions[i].ID < state.Positions[j].ID })
	return state
}

// Restore replaces the engine state with a snapshot.
func (e *Engine) Restore(state State) error {
	if err := state.Config.Validate(); err != nil {
		return err
	}
	baskts := make(map[string]*baskt.Baskt, len(state.Baskts))
	for _, bs := range state.Baskts {
		b, err := unflattenBaskt(bs)
		if err != nil {
			return err
		}
		baskts[b.ID] = b
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = state.Config
	e.pool = state.Pool
	e.treasury = state.Treasury
	e.seq = state.Seq
	e.baskts = baskts
	e.orders = make(map[string]*position.Order, len(state.Orders))
	for i := range state.Orders {
		order := state.Orders[i]
		e.orders[order.ID] = &order
	}
	e.positions = make(map[string]*position.Position, len(state.Positions))
	for i := range state.Positions {
		pos := state.Positions[i]
		e.positions[pos.ID] = &pos
	}
	e.escrows = make(map[string]int64, len(state.Escrows))
	for id, bal := range state.Escrows {
		e.escrows[id] = bal
	}
	return nil
}

func flattenBaskt(b *baskt.Baskt) BasktState {
	bs := BasktState{
		ID:             b.ID,
		Creator:        b.Creator,
		Public:         b.Public,
		Assets:         append([]baskt.AssetConfig(nil), b.Assets...),
		BaselineNav:    b.BaselineNav,
		Indices:        b.Indices,
		RebalanceIndex: b.RebalanceFee.CumulativeIndex,
		OpenPositions:  b.OpenPositions,
		Phase:          b.Status.Phase().String(),
	}
	switch status := b.Status.(type) {
	case baskt.Decommissioning:
		bs.InitiatedAt = status.InitiatedAt
		bs.GracePeriodEnd = status.GracePeriodEnd
	case baskt.Settled:
		bs.SettlementPrice = status.SettlementPrice
		bs.SettlementFundingIndex = status.SettlementFundingIndex
	case baskt.Closed:
		bs.FinalNav = status.FinalNav
		bs.ClosedAt = status.ClosedAt
	}
	return bs
}

func unflattenBaskt(bs BasktState) (*baskt.Baskt, error) {
	b := &baskt.Baskt{
		ID:            bs.ID,
		Creator:       bs.Creator,
		Public:        bs.Public,
		Assets:        append([]baskt.AssetConfig(nil), bs.Assets...),
		BaselineNav:   bs.BaselineNav,
		Indices:       bs.Indices,
		RebalanceFee:  baskt.RebalanceFeeIndex{CumulativeIndex: bs.RebalanceIndex},
		OpenPositions: bs.OpenPositions,
	}
	switch bs.Phase {
	case baskt.PhasePending.String():
		b.Status = baskt.Pending{}
	case baskt.PhaseActive.String():
		b.Status = baskt.Active{}
	case baskt.PhaseDecommissioning.String():
		b.Status = baskt.Decommissioning{InitiatedAt: bs.InitiatedAt, GracePeriodEnd: bs.GracePeriodEnd}
	case baskt.PhaseSettled.String():
		b.Status = baskt.Settled{SettlementPrice: bs.SettlementPrice, SettlementFundingIndex: bs.SettlementFundingIndex}
	case baskt.PhaseClosed.String():
		b.Status = baskt.Closed{FinalNav: bs.FinalNav, ClosedAt: bs.ClosedAt}
	default:
		return nil, fmt.Errorf("unknown baskt phase %q", bs.Phase)
	}
	return b, nil
}
