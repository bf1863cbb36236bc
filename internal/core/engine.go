// Package core serializes every protocol operation over the baskt, order and
// position records: role gating, feature gating, and the single-writer
// application of lifecycle transitions and settlements. All math lives in the
// domain packages; all value movement is emitted as transfer instructions.
package core

import (
	"errors"
	"fmt"
	"sync"

	"baskt-core/internal/access"
	"baskt-core/internal/baskt"
	"baskt-core/internal/metrics"
	"baskt-core/internal/position"
	"baskt-core/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrBasktNotFound    = errors.New("baskt not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrDuplicateRecord  = errors.New("record already exists")
)

// Engine owns all mutable protocol state. Every operation takes the write
// lock for its full duration: state transitions are atomic and totally
// ordered, matching the single-writer model the settlement math assumes.
type Engine struct {
	mu sync.Mutex

	cfg       protocol.Config
	roles     *access.Registry
	assets    *baskt.AssetRegistry
	baskts    map[string]*baskt.Baskt
	orders    map[string]*position.Order
	positions map[string]*position.Position
	escrows   map[string]int64

	pool     int64
	treasury int64
	seq      uint64

	log       *zap.Logger
	metrics   *metrics.Metrics
	observers []Observer
}

func New(cfg protocol.Config, roles *access.Registry, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if roles == nil {
		roles = access.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		roles:     roles,
		assets:    baskt.NewAssetRegistry(),
		baskts:    make(map[string]*baskt.Baskt),
		orders:    make(map[string]*position.Order),
		positions: make(map[string]*position.Position),
		escrows:   make(map[string]int64),
		log:       log,
		metrics:   metrics.NewNoop(),
	}, nil
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

func (e *Engine) AddObserver(o Observer) {
	if o != nil {
		e.observers = append(e.observers, o)
	}
}

// Config returns a copy of the current protocol configuration.
func (e *Engine) Config() protocol.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig replaces the protocol configuration. ConfigManager only.
func (e *Engine) UpdateConfig(actor common.Address, next protocol.Config, now int64) error {
	if err := e.roles.Require(actor, access.RoleConfigManager); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Update(next, actor, now)
}

// UpsertAsset lists or updates an asset. AssetManager only.
func (e *Engine) UpsertAsset(actor common.Address, asset baskt.Asset) error {
	if err := e.roles.Require(actor, access.RoleAssetManager); err != nil {
		return err
	}
	return e.assets.Upsert(asset)
}

// CreateBaskt validates the asset configuration and records a pending baskt
// owned by the creator.
func (e *Engine) CreateBaskt(creator common.Address, id string, public bool, assets []baskt.AssetConfig, now int64) (*baskt.Baskt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.baskts[id]; exists {
		return nil, fmt.Errorf("%w: baskt %s", ErrDuplicateRecord, id)
	}
	b, err := baskt.New(id, creator, public, assets, e.assets, now)
	if err != nil {
		return nil, err
	}
	e.baskts[id] = b
	e.log.Info("baskt created", zap.String("baskt", id), zap.String("creator", creator.Hex()))
	return b, nil
}

// ActivateBaskt moves a pending baskt to Active once baseline prices are
// supplied for every asset. Gated by the baskt-creation feature flag.
func (e *Engine) ActivateBaskt(id string, baselinePrices map[string]int64, now int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowBasktCreation {
		return protocol.ErrFeatureDisabled
	}
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if err := b.Activate(baselinePrices); err != nil {
		return err
	}
	b.Indices.LastUpdateTimestamp = now
	e.log.Info("baskt activated", zap.String("baskt", id), zap.Int64("baseline_nav", b.BaselineNav))
	return nil
}

// DecommissionBaskt opens the grace window. BasktManager or OracleManager.
func (e *Engine) DecommissionBaskt(actor common.Address, id string, now int64) error {
	if err := e.roles.Require(actor, access.RoleBasktManager|access.RoleOracleManager); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if err := b.Decommission(now, e.cfg.GracePeriodSec); err != nil {
		return err
	}
	e.log.Info("baskt decommissioned", zap.String("baskt", id), zap.Int64("grace_period_end", now+e.cfg.GracePeriodSec))
	return nil
}

// SettleBaskt freezes the settlement NAV. OracleManager only.
func (e *Engine) SettleBaskt(actor common.Address, id string, settlementPrice, now int64) error {
	if err := e.roles.Require(actor, access.RoleOracleManager); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if err := b.Settle(now, settlementPrice); err != nil {
		return err
	}
	e.log.Info("baskt settled", zap.String("baskt", id), zap.Int64("settlement_price", settlementPrice))
	return nil
}

// CloseBaskt finalizes a settled baskt once every position is gone.
// OracleManager only.
func (e *Engine) CloseBaskt(actor common.Address, id string, now int64) error {
	if err := e.roles.Require(actor, access.RoleOracleManager); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if err := b.Close(now); err != nil {
		return err
	}
	e.log.Info("baskt closed", zap.String("baskt", id))
	return nil
}

// RebalanceBaskt replaces the asset configuration and optionally bumps the
// rebalance fee index. Creator or Rebalancer, gated by the baskt-update flag.
func (e *Engine) RebalanceBaskt(actor common.Address, id string, assets []baskt.AssetConfig, feePerUnit, now int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Features.AllowBasktUpdate {
		return protocol.ErrFeatureDisabled
	}
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if actor != b.Creator {
		if err := e.roles.Require(actor, access.RoleRebalancer); err != nil {
			return err
		}
	}
	if err := b.Rebalance(assets, feePerUnit, e.assets); err != nil {
		return err
	}
	e.metrics.Rebalances.Inc()
	e.log.Info("baskt rebalanced", zap.String("baskt", id), zap.Int64("fee_per_unit", feePerUnit), zap.Int64("rebalance_index", b.RebalanceFee.CumulativeIndex))
	return nil
}

// UpdateMarketIndices accrues the lagged funding/borrow rates and installs
// the new ones. FundingManager only.
func (e *Engine) UpdateMarketIndices(actor common.Address, id string, fundingRateBps, borrowRateBps, now int64) error {
	if err := e.roles.Require(actor, access.RoleFundingManager); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.baskts[id]
	if !ok {
		return ErrBasktNotFound
	}
	if err := b.UpdateMarketIndices(now, fundingRateBps, borrowRateBps, e.cfg.MaxFundingRateBps); err != nil {
		return err
	}
	e.metrics.FundingUpdates.Inc()
	e.notify(func(o Observer) {
		o.OnIndexUpdate(IndexEvent{BasktID: id, Indices: b.Indices, Now: now})
	})
	return nil
}

// Baskt returns a copy of the baskt record.
func (e *Engine) Baskt(id string) (baskt.Baskt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.baskts[id]
	if !ok {
		return baskt.Baskt{}, ErrBasktNotFound
	}
	out := *b
	out.Assets = append([]baskt.AssetConfig(nil), b.Assets...)
	return out, nil
}

// Balances returns the pool and treasury balances.
func (e *Engine) Balances() (pool, treasury int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool, e.treasury
}

// Escrow returns the locked balance for a position.
func (e *Engine) Escrow(positionID string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.escrows[positionID]
	return bal, ok
}

func (e *Engine) notify(fn func(Observer)) {
	for _, o := range e.observers {
		fn(o)
	}
}
