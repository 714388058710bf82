// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

// maxShoppingBody caps how much of a search response is read.
const maxShoppingBody = 4 << 20

// ShoppingConfig configures ShoppingClient.
type ShoppingConfig struct {
	// BaseURL is the search service root; requests go to BaseURL/search.
	BaseURL string

	// APIKey is sent as a bearer token. Optional.
	APIKey *Secret

	// RequestsPerSecond paces outgoing searches. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the limiter burst. Defaults to 1.
	Burst int

	// HTTPClient is the transport. Nil uses a client with a 30s timeout.
	HTTPClient *http.Client
}

// ShoppingClient searches a Google Shopping style product API.
//
// # Description
//
// GET {base}/search?q=<query>&category=<category> returning
// {"products": [...]} where each product uses the FurnitureItem field
// names. Status codes are mapped onto the stage error taxonomy: 4xx is a
// validation error, 408/429/5xx and transport failures are external
// service errors.
type ShoppingClient struct {
	base    *url.URL
	apiKey  *Secret
	client  *http.Client
	limiter *rate.Limiter
}

// NewShoppingClient validates the config and builds the client.
func NewShoppingClient(cfg ShoppingConfig) (*ShoppingClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("shopping base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid shopping base URL %q", cfg.BaseURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &ShoppingClient{base: u, apiKey: cfg.APIKey, client: client, limiter: limiter}, nil
}

type searchResponse struct {
	Products []stages.Product `json:"products"`
}

// SearchProducts implements stages.ProductSearcher.
func (c *ShoppingClient) SearchProducts(ctx context.Context, query, category string) ([]stages.Product, error) {
	if strings.TrimSpace(query) == "" {
		return nil, stages.Validationf("empty search query")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, stages.External(fmt.Errorf("rate limiter: %w", err))
		}
	}

	u := *c.base
	u.Path += "/search"
	q := url.Values{}
	q.Set("q", query)
	if category != "" {
		q.Set("category", category)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, stages.Validation(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != nil {
		if err := c.apiKey.Use(func(v string) error {
			req.Header.Set("Authorization", "Bearer "+v)
			return nil
		}); err != nil {
			return nil, stages.Validation(err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, stages.Timeout(err)
		}
		return nil, stages.External(fmt.Errorf("shopping search: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShoppingBody))
	if err != nil {
		return nil, stages.External(fmt.Errorf("read shopping response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode,
			fmt.Errorf("shopping search returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, stages.External(fmt.Errorf("decode shopping response: %w", err))
	}
	return out.Products, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ stages.ProductSearcher = (*ShoppingClient)(nil)
