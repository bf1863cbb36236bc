// Package timescale streams settlement results and index updates into
// TimescaleDB hypertables for offline analysis. Writes are asynchronous and
// lossy under backpressure; the journal remains the durable record.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"baskt-core/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// SettlementRow is one settled close. All monetary fields are fixed-point
// integers at the engine's precision.
type SettlementRow struct {
	Time            time.Time
	BasktID         string
	PositionID      string
	Owner           string
	Class           string
	SizeClosed      int64
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

// IndexRow is one funding/borrow index update for a basket.
type IndexRow struct {
	Time                   time.Time
	BasktID                string
	CumulativeFundingIndex int64
	CumulativeBorrowIndex  int64
	FundingRateBps         int64
	BorrowRateBps          int64
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	settlements chan SettlementRow
	indices     chan IndexRow
	started     atomic.Bool
	dropSettle  atomic.Uint64
	dropIndex   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		settlements: make(chan SettlementRow, queueSize),
		indices:     make(chan IndexRow, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSettlement(row SettlementRow) {
	if w == nil {
		return
	}
	select {
	case w.settlements <- row:
		return
	default:
		if w.dropSettle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale settlement queue full")
		}
	}
}

func (w *Writer) EnqueueIndex(row IndexRow) {
	if w == nil {
		return
	}
	select {
	case w.indices <- row:
		return
	default:
		if w.dropIndex.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale index queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.settlements:
			w.writeSettlement(ctx, row)
		case row := <-w.indices:
			w.writeIndex(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		baskt TEXT NOT NULL,
		position TEXT NOT NULL,
		owner TEXT NOT NULL,
		class TEXT NOT NULL,
		size_closed BIGINT NOT NULL,
		exit_price BIGINT NOT NULL,
		pnl BIGINT NOT NULL,
		funding_accrued BIGINT NOT NULL,
		borrow_accrued BIGINT NOT NULL,
		closing_fee BIGINT NOT NULL,
		rebalance_fee BIGINT NOT NULL,
		collateral_share BIGINT NOT NULL,
		user_payout BIGINT NOT NULL,
		treasury_fee BIGINT NOT NULL,
		pool_delta BIGINT NOT NULL,
		is_bad_debt BOOLEAN NOT NULL,
		full_close BOOLEAN NOT NULL
	)`, w.table("settlements"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		baskt TEXT NOT NULL,
		cumulative_funding_index BIGINT NOT NULL,
		cumulative_borrow_index BIGINT NOT NULL,
		funding_rate_bps BIGINT NOT NULL,
		borrow_rate_bps BIGINT NOT NULL,
		PRIMARY KEY (ts, baskt)
	)`, w.table("index_updates"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("settlements"))); err != nil && w.log != nil {
		w.log.Warn("timescale settlements hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("index_updates"))); err != nil && w.log != nil {
		w.log.Warn("timescale index_updates hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeSettlement(ctx context.Context, row SettlementRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, baskt, position, owner, class, size_closed, exit_price, pnl,
		funding_accrued, borrow_accrued, closing_fee, rebalance_fee,
		collateral_share, user_payout, treasury_fee, pool_delta, is_bad_debt, full_close
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("settlements"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.BasktID,
		row.PositionID,
		row.Owner,
		row.Class,
		row.SizeClosed,
		row.ExitPrice,
		row.Pnl,
		row.FundingAccrued,
		row.BorrowAccrued,
		row.ClosingFee,
		row.RebalanceFee,
		row.CollateralShare,
		row.UserPayout,
		row.TreasuryFee,
		row.PoolDelta,
		row.IsBadDebt,
		row.FullClose,
	); err != nil && w.log != nil {
		w.log.Warn("timescale settlement insert failed", zap.Error(err))
	}
}

func (w *Writer) writeIndex(ctx context.Context, row IndexRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, baskt, cumulative_funding_index, cumulative_borrow_index, funding_rate_bps, borrow_rate_bps
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)
	ON CONFLICT (ts, baskt) DO UPDATE SET
		cumulative_funding_index = EXCLUDED.cumulative_funding_index,
		cumulative_borrow_index = EXCLUDED.cumulative_borrow_index,
		funding_rate_bps = EXCLUDED.funding_rate_bps,
		borrow_rate_bps = EXCLUDED.borrow_rate_bps`, w.table("index_updates"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.BasktID,
		row.CumulativeFundingIndex,
		row.CumulativeBorrowIndex,
		row.FundingRateBps,
		row.BorrowRateBps,
	); err != nil && w.log != nil {
		w.log.Warn("timescale index upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
