package baskt

import (
	"errors"
	"sync"
)

// Asset is a priced underlying that baskts may reference. The permission
// flags bound which directions a baskt may take on it.
type Asset struct {
	ID         string
	AllowLong  bool
	AllowShort bool
}

// AssetRegistry is the AssetManager-maintained set of listed assets.
type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{assets: make(map[string]Asset)}
}

func (r *AssetRegistry) Upsert(asset Asset) error {
	if asset.ID == "" {
		return errors.New("asset id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.ID] = asset
	return nil
}

func (r *AssetRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, id)
}

func (r *AssetRegistry) Get(id string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[id]
	return asset, ok
}
