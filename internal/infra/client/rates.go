// Package client holds the outbound adapters for market reference data.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// RatesClient fetches rate tables from the market-data API.
type RatesClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewRatesClient creates a new RatesClient.
func NewRatesClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *RatesClient {
	return &RatesClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

// Rates fetches the table for base with retry, circuit breaker, and tracing.
func (c *RatesClient) Rates(ctx context.Context, base string) (*domain.RateTable, error) {
	ctx, span := tracer.Start(ctx, "RatesClient.Rates")
	defer span.End()
	span.SetAttributes(attribute.String("rates.base", base))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "rates"}
	}
	defer c.bulkhead.Release()

	var table domain.RateTable
	err := resilience.Guarded(ctx, c.cb, c.cfg, "rates", func() error {
		u := fmt.Sprintf("%s/v1/rates?base=%s", c.baseURL, url.QueryEscape(base))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(&domain.ErrNotFound{Resource: "rate table", ID: base})
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resilience.Permanent(fmt.Errorf("rates API returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("rates API returned status %d", resp.StatusCode)
		}

		table = domain.RateTable{}
		if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
			return resilience.Permanent(fmt.Errorf("decode rate table: %w", err))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if table.Base == "" {
		table.Base = strings.ToUpper(base)
	}
	table.Rates = upperKeys(table.Rates)
	return &table, nil
}
