package chainreg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/chainreg"
	"github.com/certen/intent-router/pkg/matching"
)

func TestRegistry_ResolveRegisteredPair(t *testing.T) {
	reg := chainreg.NewRegistry()
	require.NoError(t, reg.RegisterChain("ethereum-sepolia", chainreg.KindEVM))
	require.NoError(t, reg.RegisterChain("accumulate-mainnet", chainreg.KindAccumulate))

	pair := matching.NewTradingPair("uusdc", "uacc")
	require.NoError(t, reg.RegisterPair(pair, chainreg.Route{FromChain: "ethereum-sepolia", ToChain: "accumulate-mainnet"}))

	route, ok := reg.Resolve(pair)
	require.True(t, ok)
	require.Equal(t, "ethereum-sepolia", route.FromChain)
	require.Equal(t, "accumulate-mainnet", route.ToChain)
}

func TestRegistry_ResolveUnknownPair(t *testing.T) {
	reg := chainreg.NewRegistry()
	_, ok := reg.Resolve(matching.NewTradingPair("uusdc", "uatom"))
	require.False(t, ok)
}

func TestRegistry_RegisterPairRejectsUnknownChain(t *testing.T) {
	reg := chainreg.NewRegistry()
	require.NoError(t, reg.RegisterChain("ethereum-sepolia", chainreg.KindEVM))

	pair := matching.NewTradingPair("uusdc", "uacc")
	err := reg.RegisterPair(pair, chainreg.Route{FromChain: "ethereum-sepolia", ToChain: "accumulate-mainnet"})
	require.Error(t, err)

	_, ok := reg.Resolve(pair)
	require.False(t, ok)
}

func TestRegistry_RegisterChainRejectsUnknownKind(t *testing.T) {
	reg := chainreg.NewRegistry()
	err := reg.RegisterChain("ethereum-sepolia", chainreg.Kind("solana"))
	require.Error(t, err)

	_, ok := reg.ChainKind("ethereum-sepolia")
	require.False(t, ok)
}

func TestRegistry_Pairs(t *testing.T) {
	reg := chainreg.NewRegistry()
	require.NoError(t, reg.RegisterChain("ethereum-sepolia", chainreg.KindEVM))
	require.NoError(t, reg.RegisterChain("accumulate-mainnet", chainreg.KindAccumulate))

	p1 := matching.NewTradingPair("uusdc", "uacc")
	p2 := matching.NewTradingPair("weth", "uacc")
	require.NoError(t, reg.RegisterPair(p1, chainreg.Route{FromChain: "ethereum-sepolia", ToChain: "accumulate-mainnet"}))
	require.NoError(t, reg.RegisterPair(p2, chainreg.Route{FromChain: "ethereum-sepolia", ToChain: "accumulate-mainnet"}))

	require.ElementsMatch(t, []matching.TradingPair{p1, p2}, reg.Pairs())
}
