// Copyright 2025 Certen Protocol
//
// Package transport holds the concrete settlement.Transport backends
// each solver-routed fill's delivery leg is submitted through, grounded
// on pkg/ethereum/client.go (EVM chains) and the Accumulate SDK
// (Accumulate-side chains). pkg/settlement depends only on the
// settlement.Transport interface; these types are the seam a deployment
// wires in.

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/settlement"
)

// Route identifies which concrete Transport a (fromChain, toChain) pair
// should be submitted through, grounded on the supplemented channel-
// routing feature in SPEC_FULL.md §3 (crates/settlement/src/channels.rs).
type Route struct {
	FromChain string
	ToChain   string
}

func (r Route) String() string { return r.FromChain + "->" + r.ToChain }

// ErrNoRouteForChains is returned by Router.Submit when no backend is
// registered for a chain pair.
type ErrNoRouteForChains Route

func (e ErrNoRouteForChains) Error() string {
	return fmt.Sprintf("transport: no route registered for %s->%s", e.FromChain, e.ToChain)
}

// Router dispatches a settlement's transport submission to whichever
// concrete backend serves its chain pair. It itself satisfies
// settlement.Transport, so a Manager can be constructed with one Router
// spanning every chain pair the deployment supports instead of a single
// hardcoded backend.
type Router struct {
	mu     sync.Mutex
	routes map[Route]settlement.Transport
	// handleRoute remembers which Route a TransportHandle's sequence was
	// submitted through, so AwaitDelivery can dispatch to the same backend.
	// Guarded by mu since concurrent settlements may submit and await
	// through the same Router.
	handleRoute map[uint64]Route
}

// NewRouter returns an empty Router; register backends with Register.
func NewRouter() *Router {
	return &Router{routes: make(map[Route]settlement.Transport), handleRoute: make(map[uint64]Route)}
}

// Register wires backend as the Transport for route. Registering the
// same route twice replaces the prior backend.
func (r *Router) Register(route Route, backend settlement.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route] = backend
}

func (r *Router) Submit(ctx context.Context, fromChain, toChain, denom string, amount decimal.Decimal, sender, receiver string, timeoutSecs uint64) (settlement.TransportHandle, error) {
	route := Route{FromChain: fromChain, ToChain: toChain}
	r.mu.Lock()
	backend, ok := r.routes[route]
	r.mu.Unlock()
	if !ok {
		return settlement.TransportHandle{}, ErrNoRouteForChains(route)
	}
	handle, err := backend.Submit(ctx, fromChain, toChain, denom, amount, sender, receiver, timeoutSecs)
	if err != nil {
		return handle, err
	}
	r.mu.Lock()
	r.handleRoute[handle.Sequence] = route
	r.mu.Unlock()
	return handle, nil
}

func (r *Router) AwaitDelivery(ctx context.Context, handle settlement.TransportHandle) (settlement.DeliveryResult, string, error) {
	r.mu.Lock()
	route, ok := r.handleRoute[handle.Sequence]
	backend := r.routes[route]
	r.mu.Unlock()
	if !ok {
		return settlement.DeliveryError, "", fmt.Errorf("transport: no backend remembered for sequence %d", handle.Sequence)
	}
	return backend.AwaitDelivery(ctx, handle)
}
