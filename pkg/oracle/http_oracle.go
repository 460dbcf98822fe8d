// Copyright 2025 Certen Protocol
//
// HTTP-polling coordinator.Oracle, grounded on the attestation service's
// http.Client + context-aware request pattern. Suits the "slinky" style
// sidecar oracle named in RouterConfig.Oracle: a single HTTP endpoint
// that returns the latest price for a base/quote pair.

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/matching"
)

// HTTPOracle queries endpoint + "?base=...&quote=..." for the latest
// price of a trading pair, rejecting responses older than staleness.
type HTTPOracle struct {
	endpoint   string
	staleness  time.Duration
	httpClient *http.Client
}

// NewHTTPOracle returns an Oracle backed by endpoint. staleness bounds how
// old a quote may be before Price treats it as unusable.
func NewHTTPOracle(endpoint string, staleness time.Duration) *HTTPOracle {
	return &HTTPOracle{
		endpoint:   endpoint,
		staleness:  staleness,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type priceResponse struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Price implements coordinator.Oracle.
func (o *HTTPOracle) Price(ctx context.Context, pair matching.TradingPair) (decimal.Decimal, time.Time, error) {
	u, err := url.Parse(o.endpoint)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("base", pair.Base)
	q.Set("quote", pair.Quote)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: request %s: %w", pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: %s returned status %d", pair, resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	price, err := decimal.NewFromString(parsed.Price)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: invalid price %q: %w", parsed.Price, err)
	}

	if o.staleness > 0 && time.Since(parsed.Timestamp) > o.staleness {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: %s price is stale (%s old)", pair, time.Since(parsed.Timestamp))
	}

	return price, parsed.Timestamp, nil
}
