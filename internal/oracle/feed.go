package oracle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Feed combines the websocket stream, the REST fallback and the quote cache
// into one NAV source.
type Feed struct {
	ws              *WSClient
	rest            *RESTClient
	cache           *Cache
	refreshInterval time.Duration
	log             *zap.Logger
	clock           func() time.Time
}

func NewFeed(ws *WSClient, rest *RESTClient, cache *Cache, refreshInterval time.Duration, log *zap.Logger) *Feed {
	return &Feed{
		ws:              ws,
		rest:            rest,
		cache:           cache,
		refreshInterval: refreshInterval,
		log:             log,
		clock:           time.Now,
	}
}

type navFrame struct {
	Channel string `json:"channel"`
	Data    struct {
		Baskt string `json:"baskt"`
		Nav   string `json:"nav"`
		Time  int64  `json:"time"`
	} `json:"data"`
}

// Start primes the cache from REST, subscribes the NAV stream and runs the
// websocket loop plus a periodic REST refresh until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.refresh(ctx); err != nil {
		f.log.Warn("oracle initial snapshot failed", zap.Error(err))
	}
	if err := f.ws.SubscribeNav(ctx, ""); err != nil {
		return err
	}

	go f.refreshLoop(ctx)
	return f.ws.Run(ctx, f.handleFrame)
}

func (f *Feed) handleFrame(raw json.RawMessage) {
	var frame navFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		f.log.Warn("oracle frame decode failed", zap.Error(err))
		return
	}
	if frame.Channel != "nav" || frame.Data.Baskt == "" {
		return
	}
	nav, err := ParsePrice(frame.Data.Nav)
	if err != nil {
		f.log.Warn("oracle nav parse failed", zap.String("baskt", frame.Data.Baskt), zap.String("nav", frame.Data.Nav), zap.Error(err))
		return
	}
	f.cache.Put(Quote{
		BasktID:    frame.Data.Baskt,
		Nav:        nav,
		ReceivedAt: f.clock(),
	})
}

func (f *Feed) refreshLoop(ctx context.Context) {
	if f.refreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.refresh(ctx); err != nil {
				f.log.Warn("oracle snapshot refresh failed", zap.Error(err))
			}
		}
	}
}

func (f *Feed) refresh(ctx context.Context) error {
	navs, err := f.rest.Navs(ctx)
	if err != nil {
		return err
	}
	now := f.clock()
	for basktID, nav := range navs {
		f.cache.Put(Quote{BasktID: basktID, Nav: nav, ReceivedAt: now})
	}
	return nil
}

// Nav returns the freshest cached NAV for a basket.
func (f *Feed) Nav(basktID string) (int64, error) {
	return f.cache.Nav(basktID, f.clock())
}
