// Package access implements the role/authorization boundary. Actors are
// EVM-style addresses; the registry maps each address to a role bitmask and
// every privileged operation asks for exactly the role it needs.
package access

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnauthorizedRole = errors.New("unauthorized role")
)

type Role uint16

const (
	RoleConfigManager Role = 1 << iota
	RoleAssetManager
	RoleBasktManager
	RoleOracleManager
	RoleFundingManager
	RoleMatcher
	RoleLiquidator
	RoleRebalancer
	RoleTreasury
)

func (r Role) String() string {
	switch r {
	case RoleConfigManager:
		return "config_manager"
	case RoleAssetManager:
		return "asset_manager"
	case RoleBasktManager:
		return "baskt_manager"
	case RoleOracleManager:
		return "oracle_manager"
	case RoleFundingManager:
		return "funding_manager"
	case RoleMatcher:
		return "matcher"
	case RoleLiquidator:
		return "liquidator"
	case RoleRebalancer:
		return "rebalancer"
	case RoleTreasury:
		return "treasury"
	default:
		return "unknown"
	}
}

// Registry maps actors to granted roles.
type Registry struct {
	mu     sync.RWMutex
	grants map[common.Address]Role
}

func NewRegistry() *Registry {
	return &Registry{grants: make(map[common.Address]Role)}
}

// Grant adds roles to an actor, keeping any roles already held.
func (r *Registry) Grant(actor common.Address, roles Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[actor] |= roles
}

// Revoke removes roles from an actor.
func (r *Registry) Revoke(actor common.Address, roles Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[actor] &^= roles
	if r.grants[actor] == 0 {
		delete(r.grants, actor)
	}
}

// Has reports whether the actor holds any of the given roles.
func (r *Registry) Has(actor common.Address, roles Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[actor]&roles != 0
}

// Require fails with ErrUnauthorized for unknown actors and
// ErrUnauthorizedRole for known actors lacking all of the given roles.
func (r *Registry) Require(actor common.Address, roles Role) error {
	r.mu.RLock()
	held, known := r.grants[actor]
	r.mu.RUnlock()
	if !known {
		return ErrUnauthorized
	}
	if held&roles == 0 {
		return ErrUnauthorizedRole
	}
	return nil
}
