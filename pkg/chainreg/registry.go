// Copyright 2025 Certen Protocol
//
// Package chainreg resolves a trading pair's base and quote denoms to the
// chain identifiers settlement must route between, and each chain
// identifier to the transport backend class that serves it. Grounded on
// pkg/strategy/registry.go's chainConfigs-map-indexed-by-chainID shape: the
// same "index configuration by logical identifier, look it up at wiring
// time" pattern, applied to pair-to-chain routing instead of attestation
// scheme selection.

package chainreg

import (
	"fmt"
	"sync"

	"github.com/certen/intent-router/pkg/matching"
)

// Kind identifies which concrete transport.Transport backend class serves
// a chain: an EVM JSON-RPC client or an Accumulate SDK client.
type Kind string

const (
	KindEVM        Kind = "evm"
	KindAccumulate Kind = "accumulate"
)

func (k Kind) valid() bool {
	return k == KindEVM || k == KindAccumulate
}

// Route is the (fromChain, toChain) pair a TradingPair settles between.
// Mirrors transport.Route's shape without importing pkg/transport, so
// chainreg stays usable by anything that needs pair routing without
// pulling in the transport backends themselves.
type Route struct {
	FromChain string
	ToChain   string
}

// Registry maps chain identifiers to their backend Kind, and trading pairs
// to the chain Route they settle over. One Registry is shared by every
// trading pair a node serves; callers build transport.Router registrations
// from it at startup.
type Registry struct {
	mu     sync.RWMutex
	kinds  map[string]Kind
	routes map[matching.TradingPair]Route
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:  make(map[string]Kind),
		routes: make(map[matching.TradingPair]Route),
	}
}

// RegisterChain records which backend Kind serves chainID. Re-registering
// the same chainID overwrites its prior Kind.
func (r *Registry) RegisterChain(chainID string, kind Kind) error {
	if chainID == "" {
		return fmt.Errorf("chainreg: chain id must not be empty")
	}
	if !kind.valid() {
		return fmt.Errorf("chainreg: unknown chain kind %q for chain %q", kind, chainID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[chainID] = kind
	return nil
}

// ChainKind returns the backend Kind registered for chainID.
func (r *Registry) ChainKind(chainID string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[chainID]
	return k, ok
}

// RegisterPair records the chain Route pair settles over. Both of route's
// chains must already have a registered Kind, so a pair can never resolve
// to a chain the node has no transport backend for.
func (r *Registry) RegisterPair(pair matching.TradingPair, route Route) error {
	if _, ok := r.ChainKind(route.FromChain); !ok {
		return fmt.Errorf("chainreg: from-chain %q for pair %s has no registered kind", route.FromChain, pair)
	}
	if _, ok := r.ChainKind(route.ToChain); !ok {
		return fmt.Errorf("chainreg: to-chain %q for pair %s has no registered kind", route.ToChain, pair)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[pair] = route
	return nil
}

// Resolve returns the chain Route registered for pair.
func (r *Registry) Resolve(pair matching.TradingPair) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[pair]
	return route, ok
}

// Pairs returns every pair currently registered, in no particular order,
// for iteration at wiring time (e.g. to register each pair's route with a
// transport.Router).
func (r *Registry) Pairs() []matching.TradingPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]matching.TradingPair, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	return out
}
