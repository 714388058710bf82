// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// errNoProducts marks a need whose search came back empty.
var errNoProducts = errors.New("no products found")

// ShopConfig bounds the Shop stage.
type ShopConfig struct {
	// MaxNeeds caps how many furniture needs are searched. Default 8.
	MaxNeeds int `yaml:"max_needs"`

	// ProductsPerNeed is how many products become items per need. Default 1.
	ProductsPerNeed int `yaml:"products_per_need"`

	// Concurrency is how many searches run at once. Default 3.
	Concurrency int `yaml:"concurrency"`
}

// DefaultShopConfig returns the default Shop bounds.
func DefaultShopConfig() ShopConfig {
	return ShopConfig{MaxNeeds: 8, ProductsPerNeed: 1, Concurrency: 3}
}

// WithDefaults fills zero fields from DefaultShopConfig.
func (c ShopConfig) WithDefaults() ShopConfig {
	d := DefaultShopConfig()
	if c.MaxNeeds <= 0 {
		c.MaxNeeds = d.MaxNeeds
	}
	if c.ProductsPerNeed <= 0 {
		c.ProductsPerNeed = d.ProductsPerNeed
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// Shop resolves the plan's furniture needs into products.
type Shop struct {
	searcher ProductSearcher
	cfg      ShopConfig
	deps     Deps
}

// NewShop creates the Shop stage.
func NewShop(searcher ProductSearcher, cfg ShopConfig, deps Deps) *Shop {
	return &Shop{searcher: searcher, cfg: cfg.WithDefaults(), deps: deps}
}

// Stage implements Executor.
func (s *Shop) Stage() datatypes.StageName { return datatypes.StageShop }

// needResult is the outcome of one need. Exactly one of products and err
// is meaningful.
type needResult struct {
	query    string
	products []Product
	attempts int
	err      error
}

// Execute implements Executor.
//
// # Description
//
// Each need is searched on its own, with its own retry budget, at most
// Concurrency at a time. Results keep the order of the plan. A need that
// fails or finds nothing becomes a PartialItemError and the stage carries
// on. The stage fails only when needs were requested and none resolved.
//
// # Limitations
//
//   - Needs beyond MaxNeeds are ignored and noted.
func (s *Shop) Execute(ctx context.Context, in Input) (Output, error) {
	if in.Plan == nil {
		return Output{}, asStageError(datatypes.StageShop, 0, Validationf("design plan missing"))
	}

	needs := in.Plan.FurnitureNeeded
	var notes []string
	if len(needs) > s.cfg.MaxNeeds {
		notes = append(notes, fmt.Sprintf("Searching the first %d of %d furniture items", s.cfg.MaxNeeds, len(needs)))
		needs = needs[:s.cfg.MaxNeeds]
	}

	results := make([]needResult, len(needs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, need := range needs {
		g.Go(func() error {
			results[i] = s.resolve(gctx, in.SessionID, need)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Output{}, asStageError(datatypes.StageShop, 0, parentError(err))
	}

	out := Output{}
	var md strings.Builder
	md.WriteString("## Shopping Results\n")
	for i, need := range needs {
		r := results[i]
		out.Attempts += r.attempts
		notes = append(notes, fmt.Sprintf("Searching for: %s", r.query))
		if r.err != nil {
			out.ItemErrors = append(out.ItemErrors, &PartialItemError{Item: need.Item, Err: r.err})
			notes = append(notes, fmt.Sprintf("Could not find: %s", need.Item))
			continue
		}
		picked := r.products
		if len(picked) > s.cfg.ProductsPerNeed {
			picked = picked[:s.cfg.ProductsPerNeed]
		}
		for _, p := range picked {
			out.Items = append(out.Items, toFurnitureItem(p, need))
		}
		md.WriteString(renderShopSection(need, picked))
		notes = append(notes, fmt.Sprintf("Found %d options for %s", len(picked), need.Item))
	}
	notes = append(notes, fmt.Sprintf("Found %d furniture items", len(out.Items)))
	out.Notes = notes

	if len(needs) > 0 && len(out.Items) == 0 {
		return out, asStageError(datatypes.StageShop, out.Attempts, External(ErrNoItems))
	}

	plan := in.Plan.Clone()
	plan.Markdown += md.String() + "\n"
	out.Plan = plan
	if out.Items == nil {
		out.Items = []datatypes.FurnitureItem{}
	}
	return out, nil
}

// resolve searches for one need with its own retry loop.
func (s *Shop) resolve(ctx context.Context, sessionID string, need datatypes.FurnitureNeed) needResult {
	r := needResult{query: SimplifyQuery(need.Item)}
	res, err := Retry(ctx, s.deps.Policy, func(ctx context.Context, _ int) error {
		products, callErr := s.searcher.SearchProducts(ctx, r.query, need.Category)
		if callErr != nil {
			return callErr
		}
		r.products = products
		return nil
	})
	r.attempts = res.Attempts
	switch {
	case err != nil:
		r.err = err
	case len(r.products) == 0:
		r.err = errNoProducts
	}
	if r.err != nil {
		s.deps.logger().Warn("furniture search failed",
			slog.String("session_id", sessionID),
			slog.String("item", need.Item),
			slog.String("query", r.query),
			slog.String("error", r.err.Error()))
	}
	return r
}

func toFurnitureItem(p Product, need datatypes.FurnitureNeed) datatypes.FurnitureItem {
	title := p.Title
	if title == "" {
		title = need.Item
	}
	category := need.Category
	if category == "" {
		category = "Furniture"
	}
	item := datatypes.FurnitureItem{
		Title:          title,
		Price:          optStr(p.Price),
		GoogleLink:     optStr(p.GoogleLink),
		DirectLink:     optStr(p.DirectLink),
		Source:         optStr(p.Source),
		Delivery:       optStr(p.Delivery),
		ProductRating:  p.ProductRating,
		ProductReviews: p.ProductReviews,
		StoreRating:    p.StoreRating,
		StoreReviews:   p.StoreReviews,
		Category:       &category,
		ImageURL:       optStr(p.ImageURL),
	}
	if need.Position != nil {
		pos := *need.Position
		item.Position = &pos
	}
	return item.Clone()
}
