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
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

func mustSecret(t *testing.T, v string) *Secret {
	t.Helper()
	s, err := NewSecret(v)
	require.NoError(t, err)
	return s
}

func TestSecret(t *testing.T) {
	_, err := NewSecret("")
	assert.ErrorIs(t, err, ErrEmptySecret)

	s := mustSecret(t, "sk-test")
	var seen string
	require.NoError(t, s.Use(func(v string) error {
		seen = v
		return nil
	}))
	assert.Equal(t, "sk-test", seen)

	var nilSecret *Secret
	assert.ErrorIs(t, nilSecret.Use(func(string) error { return nil }), ErrEmptySecret)
}

// =============================================================================
// Shopping client
// =============================================================================

func TestShoppingClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "sofa", r.URL.Query().Get("q"))
		assert.Equal(t, "Seating", r.URL.Query().Get("category"))
		assert.Equal(t, "Bearer shop-key", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"products":[{"title":"Sofa A","price":"$10","product_rating":4.5,"product_reviews":12}]}`)
	}))
	defer srv.Close()

	c, err := NewShoppingClient(ShoppingConfig{BaseURL: srv.URL + "/v1/", APIKey: mustSecret(t, "shop-key"), RequestsPerSecond: 100})
	require.NoError(t, err)

	products, err := c.SearchProducts(context.Background(), "sofa", "Seating")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Sofa A", products[0].Title)
	assert.Equal(t, 4.5, *products[0].ProductRating)
	assert.Equal(t, 12, *products[0].ProductReviews)
}

func TestShoppingClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   stages.Kind
	}{
		{http.StatusBadRequest, stages.KindValidation},
		{http.StatusUnprocessableEntity, stages.KindValidation},
		{http.StatusTooManyRequests, stages.KindExternal},
		{http.StatusBadGateway, stages.KindExternal},
		{http.StatusRequestTimeout, stages.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewShoppingClient(ShoppingConfig{BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = c.SearchProducts(context.Background(), "lamp", "")
			assert.Equal(t, tt.want, stages.KindOf(err))
		})
	}
}

func TestShoppingClient_BadConfigAndQuery(t *testing.T) {
	_, err := NewShoppingClient(ShoppingConfig{})
	assert.Error(t, err)
	_, err = NewShoppingClient(ShoppingConfig{BaseURL: "not a url"})
	assert.Error(t, err)

	c, err := NewShoppingClient(ShoppingConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.SearchProducts(context.Background(), "  ", "")
	assert.ErrorIs(t, err, stages.ErrValidation)

	_, err = c.SearchProducts(context.Background(), "lamp", "")
	assert.ErrorIs(t, err, stages.ErrExternalService)
}

func TestShoppingClient_MalformedBodyIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	c, err := NewShoppingClient(ShoppingConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.SearchProducts(context.Background(), "lamp", "")
	assert.ErrorIs(t, err, stages.ErrExternalService)
}

// =============================================================================
// Catalog and fallback
// =============================================================================

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	products, err := c.SearchProducts(context.Background(), "Nightstand", "")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "CB2 Suspend II Wood Nightstand", products[0].Title)

	products, err = c.SearchProducts(context.Background(), "bed frame", "")
	require.NoError(t, err)
	assert.Equal(t, "$1,299.00", products[1].Price)

	products, err = c.SearchProducts(context.Background(), "floor lamp", "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Modern floor lamp", products[0].Title)
	assert.Contains(t, products[0].GoogleLink, "q=floor+lamp")
}

type fixedSearcher struct {
	products []stages.Product
	err      error
	calls    int32
}

func (f *fixedSearcher) SearchProducts(context.Context, string, string) ([]stages.Product, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.products, f.err
}

func TestFallbackSearcher(t *testing.T) {
	fallback := &fixedSearcher{products: []stages.Product{{Title: "fallback"}}}

	primary := &fixedSearcher{products: []stages.Product{{Title: "primary"}}}
	got, err := (&FallbackSearcher{Primary: primary, Fallback: fallback}).SearchProducts(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "primary", got[0].Title)
	assert.Equal(t, int32(0), fallback.calls)

	empty := &fixedSearcher{}
	got, err = (&FallbackSearcher{Primary: empty, Fallback: fallback}).SearchProducts(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got[0].Title)

	failing := &fixedSearcher{err: stages.External(errors.New("down"))}
	got, err = (&FallbackSearcher{Primary: failing, Fallback: fallback}).SearchProducts(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got[0].Title)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&FallbackSearcher{Primary: failing, Fallback: fallback}).SearchProducts(ctx, "x", "")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Static vision
// =============================================================================

func TestStaticVision(t *testing.T) {
	sv := NewStaticVision()
	ctx := context.Background()

	a, err := sv.AnalyzeRoom(ctx, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "living room", a.RoomType)

	plan, err := sv.PlanDesign(ctx, datatypes.RoomAnalysis{RoomType: "Master Bedroom"}, nil)
	require.NoError(t, err)
	require.Len(t, plan.FurnitureNeeded, 3)
	assert.Equal(t, "bed", plan.FurnitureNeeded[0].Item)

	plan, err = sv.PlanDesign(ctx, a, nil)
	require.NoError(t, err)
	assert.Equal(t, "sofa", plan.FurnitureNeeded[0].Item)

	r, err := sv.RenderDesign(ctx, stages.RenderRequest{Plan: &plan, Analysis: &a})
	require.NoError(t, err)
	assert.Empty(t, r.Image)
	assert.Contains(t, r.Description, "modern scandinavian living room")

	_, err = sv.AnalyzeRoom(ctx, nil, "")
	assert.ErrorIs(t, err, stages.ErrValidation)
}

// =============================================================================
// OpenAI vision
// =============================================================================

func chatReply(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	})
	return string(raw)
}

func newTestVision(t *testing.T, handler http.HandlerFunc) *OpenAIVision {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	v, err := NewOpenAIVision(OpenAIConfig{APIKey: mustSecret(t, "sk-abc"), BaseURL: srv.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)
	return v
}

func TestOpenAIVision_AnalyzeRoom(t *testing.T) {
	v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-abc", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("img")))
		assert.Contains(t, string(body), `"json_object"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply("```json\n{\"room_type\":\"bedroom\",\"dimensions_estimate\":{\"width\":3,\"length\":4}}\n```"))
	})

	a, err := v.AnalyzeRoom(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "bedroom", a.RoomType)
	assert.Equal(t, 4.0, a.Dimensions.Length)
}

func TestOpenAIVision_PlanDecodeFailureIsExternal(t *testing.T) {
	v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply("I cannot do that"))
	})
	_, err := v.PlanDesign(context.Background(), datatypes.RoomAnalysis{RoomType: "office"}, []string{"tip"})
	assert.Equal(t, stages.KindExternal, stages.KindOf(err))
}

func TestOpenAIVision_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   stages.Kind
	}{
		{http.StatusBadRequest, stages.KindValidation},
		{http.StatusUnprocessableEntity, stages.KindValidation},
		{http.StatusTooManyRequests, stages.KindExternal},
		{http.StatusInternalServerError, stages.KindExternal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			})
			_, err := v.AnalyzeRoom(context.Background(), []byte("img"), "image/png")
			assert.Equal(t, tt.want, stages.KindOf(err))
		})
	}
}

func TestOpenAIVision_RenderDesign(t *testing.T) {
	png := []byte("\x89PNG fake")
	v := newTestVision(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "b64_json", r.FormValue("response_format"))
		assert.True(t, strings.Contains(r.FormValue("prompt"), "Furniture 1: Sofa"))
		_, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "room.jpg", hdr.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[{"b64_json":"`+base64.StdEncoding.EncodeToString(png)+`"}]}`)
	})

	plan := &datatypes.DesignPlan{DesignStyle: "Modern"}
	r, err := v.RenderDesign(context.Background(), stages.RenderRequest{
		Image:       []byte("jpeg"),
		ContentType: "image/jpeg",
		Plan:        plan,
		Items:       []datatypes.FurnitureItem{{Title: "Sofa"}},
	})
	require.NoError(t, err)
	assert.Equal(t, png, r.Image)
	assert.Equal(t, "image/png", r.ContentType)
}

func TestClassifyOpenAIError_Context(t *testing.T) {
	assert.Equal(t, stages.KindTimeout, stages.KindOf(classifyOpenAIError(context.DeadlineExceeded)))
	assert.Equal(t, stages.KindCancelled, stages.KindOf(classifyOpenAIError(context.Canceled)))
	assert.Equal(t, stages.KindExternal, stages.KindOf(classifyOpenAIError(errors.New("dial tcp: refused"))))
}
