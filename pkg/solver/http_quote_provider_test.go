// Copyright 2025 Certen Protocol

package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
)

func quotingServer(t *testing.T, outputAmount string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(intent.SolverQuote{
			InputAmount:  decimal.NewFromInt(100),
			OutputAmount: decimal.RequireFromString(outputAmount),
			Price:        "1.0",
			ValidForMs:   5000,
		})
	}))
}

func TestHTTPQuoteProvider_Quotes_CollectsAllRespondingSolvers(t *testing.T) {
	solverA := quotingServer(t, "101")
	defer solverA.Close()
	solverB := quotingServer(t, "99")
	defer solverB.Close()

	provider := NewHTTPQuoteProvider(map[string]string{
		"solver-a": solverA.URL,
		"solver-b": solverB.URL,
	}, time.Second, nil)

	in := intent.Intent{Input: intent.Asset{ChainID: "1", Denom: "uusdc", Amount: decimal.NewFromInt(100)}}
	quotes, err := provider.Quotes(context.Background(), matching.NewTradingPair("uusdc", "uatom"), in)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	seen := map[string]bool{}
	for _, q := range quotes {
		seen[q.SolverID] = true
	}
	require.True(t, seen["solver-a"])
	require.True(t, seen["solver-b"])
}

func TestHTTPQuoteProvider_Quotes_SkipsFailingSolverWithoutErroring(t *testing.T) {
	good := quotingServer(t, "101")
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	provider := NewHTTPQuoteProvider(map[string]string{
		"good": good.URL,
		"bad":  bad.URL,
	}, time.Second, nil)

	in := intent.Intent{Input: intent.Asset{ChainID: "1", Denom: "uusdc", Amount: decimal.NewFromInt(100)}}
	quotes, err := provider.Quotes(context.Background(), matching.NewTradingPair("uusdc", "uatom"), in)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Equal(t, "good", quotes[0].SolverID)
}
