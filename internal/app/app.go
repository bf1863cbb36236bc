// Package app wires the engine to its collaborators: the sqlite ledger, the
// oracle feed, the journal, metrics, timescale export, the liquidation keeper
// and the telegram operator channel.
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"baskt-core/internal/access"
	"baskt-core/internal/alerts"
	"baskt-core/internal/config"
	"baskt-core/internal/core"
	"baskt-core/internal/journal"
	"baskt-core/internal/ledger"
	"baskt-core/internal/ledger/sqlite"
	"baskt-core/internal/metrics"
	"baskt-core/internal/oracle"
	"baskt-core/internal/protocol"
	"baskt-core/internal/timescale"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	engine    *core.Engine
	feed      *oracle.Feed
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	timescale *timescale.Writer

	admin      common.Address
	liquidator common.Address

	opsMu          sync.RWMutex
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	admin := common.HexToAddress(cfg.Actors.Admin)
	liquidator := common.HexToAddress(cfg.Actors.Liquidator)
	roles := access.NewRegistry()
	if cfg.Actors.Admin != "" {
		roles.Grant(admin, access.RoleConfigManager|access.RoleAssetManager|access.RoleBasktManager|access.RoleOracleManager|access.RoleFundingManager)
	}
	if cfg.Actors.Matcher != "" {
		roles.Grant(common.HexToAddress(cfg.Actors.Matcher), access.RoleMatcher)
	}
	if cfg.Actors.Liquidator != "" {
		roles.Grant(liquidator, access.RoleLiquidator)
	}

	engine, err := core.New(protocol.Default(), roles, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if state, ok, err := ledger.LoadEngineState(ctx, store); err != nil {
		_ = store.Close()
		return nil, err
	} else if ok {
		if err := engine.Restore(state); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info("engine state restored",
			zap.Int("baskts", len(state.Baskts)),
			zap.Int("positions", len(state.Positions)),
			zap.Int64("pool", state.Pool),
		)
	}

	prom := metrics.NewPrometheus()
	engine.SetMetrics(prom.Metrics)

	journalWriter, err := journal.NewWriter(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine.AddObserver(journal.NewRecorder(journalWriter, log))

	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if tsWriter != nil {
		engine.AddObserver(newTimescaleObserver(tsWriter))
	}

	wsClient := oracle.NewWSClient(cfg.Oracle.WSURL, cfg.Oracle.ReconnectDelay, cfg.Oracle.PingInterval, log)
	restClient := oracle.NewRESTClient(cfg.Oracle.RESTURL, cfg.Oracle.RESTTimeout, log)
	cache := oracle.NewCache(cfg.Oracle.MaxQuoteAge)
	feed := oracle.NewFeed(wsClient, restClient, cache, cfg.Oracle.RefreshInterval, log)

	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		engine:     engine,
		feed:       feed,
		prom:       prom,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		timescale:  tsWriter,
		admin:      admin,
		liquidator: liquidator,
	}, nil
}

// Engine exposes the engine for command handlers and tests.
func (a *App) Engine() *core.Engine {
	return a.engine
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()

	a.timescale.Start(ctx)

	if a.cfg.Metrics.Enabled {
		go a.serveMetrics(ctx)
	}

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- a.feed.Start(ctx)
	}()

	if a.cfg.Keeper.Enabled {
		go a.keeperLoop(ctx)
	}
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.State.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.persistSnapshot(context.Background())
			return ctx.Err()
		case err := <-feedDone:
			if ctx.Err() != nil {
				a.persistSnapshot(context.Background())
				return ctx.Err()
			}
			return err
		case <-ticker.C:
			a.persistSnapshot(ctx)
		}
	}
}

func (a *App) persistSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ledger.SaveEngineState(ctx, a.store, a.engine.Snapshot()); err != nil {
		a.log.Warn("snapshot persist failed", zap.Error(err))
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	path := a.cfg.Metrics.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux.Handle(path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Warn("metrics server failed", zap.Error(err))
	}
}
