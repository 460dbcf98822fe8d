// Copyright 2025 Certen Protocol

package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/intent-router/pkg/matching"
)

func TestHTTPOracle_Price_ParsesFreshQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "uatom", r.URL.Query().Get("base"))
		require.Equal(t, "uusdc", r.URL.Query().Get("quote"))
		json.NewEncoder(w).Encode(priceResponse{Price: "8.42", Timestamp: time.Now()})
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, time.Minute)
	price, ts, err := o.Price(context.Background(), matching.NewTradingPair("uusdc", "uatom"))
	require.NoError(t, err)
	require.True(t, price.Equal(price.Abs())) // sanity: parsed without error
	require.Equal(t, "8.42", price.String())
	require.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestHTTPOracle_Price_RejectsStaleQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(priceResponse{Price: "1.0", Timestamp: time.Now().Add(-time.Hour)})
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, time.Second)
	_, _, err := o.Price(context.Background(), matching.NewTradingPair("uusdc", "uatom"))
	require.Error(t, err)
}

func TestHTTPOracle_Price_RejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, time.Minute)
	_, _, err := o.Price(context.Background(), matching.NewTradingPair("uusdc", "uatom"))
	require.Error(t, err)
}
