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
	"log/slog"
	"net/url"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

type catalogEntry struct {
	key      string
	products []stages.Product
}

// catalogEntries is matched in order; "bed frame" must come before "bed".
var catalogEntries = []catalogEntry{
	{"mattress", []stages.Product{
		{Title: "IKEA HAUGESUND Spring Mattress Medium Firm", Price: "$279.00", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/haugesund-spring-mattress-medium-firm-beige-50307417/"},
		{Title: "Casper Original Foam Mattress", Price: "$595.00", Source: "Casper",
			GoogleLink: "https://casper.com/mattresses/casper-original/"},
	}},
	{"bed frame", []stages.Product{
		{Title: "West Elm Mid-Century Bed Frame - Acorn", Price: "$899.00", Source: "West Elm",
			GoogleLink: "https://www.westelm.com/products/mid-century-bed-acorn-h6565/"},
		{Title: "Article Nera Walnut Wood Bed", Price: "$1,299.00", Source: "Article",
			GoogleLink: "https://www.article.com/product/1457/nera-walnut-wood-bed"},
	}},
	{"bed", []stages.Product{
		{Title: "West Elm Mid-Century Bed Frame - Acorn", Price: "$899.00", Source: "West Elm",
			GoogleLink: "https://www.westelm.com/products/mid-century-bed-acorn-h6565/"},
	}},
	{"nightstand", []stages.Product{
		{Title: "CB2 Suspend II Wood Nightstand", Price: "$299.00", Source: "CB2",
			GoogleLink: "https://www.cb2.com/suspend-ii-wood-nightstand/s574306"},
		{Title: "IKEA NORDKISA Bamboo Nightstand", Price: "$59.99", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/nordkisa-nightstand-bamboo-00468437/"},
	}},
	{"dresser", []stages.Product{
		{Title: "IKEA MALM 6-drawer Dresser White", Price: "$229.00", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/malm-6-drawer-dresser-white-00360454/"},
		{Title: "West Elm Penelope 6-Drawer Dresser", Price: "$899.00", Source: "West Elm",
			GoogleLink: "https://www.westelm.com/products/penelope-6-drawer-dresser-h5735/"},
	}},
	{"desk", []stages.Product{
		{Title: "Article Madera Oak Desk", Price: "$449.00", Source: "Article",
			GoogleLink: "https://www.article.com/product/16069/madera-oak-desk"},
		{Title: "IKEA IDASEN Desk Beige", Price: "$279.00", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/idasen-desk-beige-s79280997/"},
	}},
	{"chair", []stages.Product{
		{Title: "Herman Miller Aeron Chair", Price: "$1,395.00", Source: "Herman Miller",
			GoogleLink: "https://www.hermanmiller.com/products/seating/office-chairs/aeron-chairs/"},
		{Title: "IKEA JÄRVFJÄLLET Office Chair", Price: "$229.00", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/jaervfjaellet-office-chair-gunnared-beige-00521856/"},
	}},
	{"sofa", []stages.Product{
		{Title: "Article Sven Charme Tan Sofa", Price: "$1,799.00", Source: "Article",
			GoogleLink: "https://www.article.com/product/1789/sven-charme-tan-sofa"},
		{Title: "IKEA KIVIK Sofa Hillared Beige", Price: "$579.00", Source: "IKEA",
			GoogleLink: "https://www.ikea.com/us/en/p/kivik-sofa-hillared-beige-s09419027/"},
	}},
}

// Catalog is an offline product source. Unknown items get a generic
// placeholder product linking to a web search.
type Catalog struct{}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog { return &Catalog{} }

// SearchProducts implements stages.ProductSearcher. It never fails.
func (Catalog) SearchProducts(_ context.Context, query, _ string) ([]stages.Product, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, e := range catalogEntries {
		if strings.Contains(q, e.key) || (q != "" && strings.Contains(e.key, q)) {
			return append([]stages.Product(nil), e.products...), nil
		}
	}
	return []stages.Product{{
		Title:      "Modern " + query,
		Price:      "$499.00",
		Source:     "Generic Furniture Store",
		GoogleLink: "https://www.google.com/search?q=" + url.QueryEscape(query),
	}}, nil
}

// FallbackSearcher asks Primary first and uses Fallback when Primary fails
// or finds nothing. A cancelled context is never masked.
type FallbackSearcher struct {
	Primary  stages.ProductSearcher
	Fallback stages.ProductSearcher
	Logger   *slog.Logger
}

// SearchProducts implements stages.ProductSearcher.
func (f *FallbackSearcher) SearchProducts(ctx context.Context, query, category string) ([]stages.Product, error) {
	products, err := f.Primary.SearchProducts(ctx, query, category)
	if err == nil && len(products) > 0 {
		return products, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.Logger != nil {
		attrs := []any{slog.String("query", query)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		f.Logger.Info("primary product search came back empty, using fallback", attrs...)
	}
	return f.Fallback.SearchProducts(ctx, query, category)
}

var (
	_ stages.ProductSearcher = Catalog{}
	_ stages.ProductSearcher = (*FallbackSearcher)(nil)
)
