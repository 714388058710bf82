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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

// OpenAIConfig configures OpenAIVision.
type OpenAIConfig struct {
	// APIKey authenticates every request.
	APIKey *Secret

	// Model is the chat model for analysis and planning.
	Model string

	// ImageModel is the model used by the image edit endpoint.
	ImageModel string

	// ImageSize is the rendered image size, e.g. "1024x1024".
	ImageSize string

	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string

	// HTTPClient is the transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// OpenAIVision implements RoomAnalyzer, Planner and Renderer on the OpenAI
// API.
type OpenAIVision struct {
	client     *openai.Client
	model      string
	imageModel string
	imageSize  string
}

// NewOpenAIVision creates the client. The API key stays in its enclave and
// is injected per request.
func NewOpenAIVision(cfg OpenAIConfig) (*OpenAIVision, error) {
	if cfg.APIKey == nil {
		return nil, fmt.Errorf("openai: %w", ErrEmptySecret)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
		slog.Warn("openai model not set, defaulting", "model", cfg.Model)
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelGptImage1
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = openai.CreateImageSize1024x1024
	}

	oc := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = newBearerDoer(cfg.HTTPClient, cfg.APIKey)

	slog.Info("Initializing OpenAI vision client", "model", cfg.Model, "image_model", cfg.ImageModel)
	return &OpenAIVision{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
	}, nil
}

const analyzePrompt = `Analyze this empty room and provide a detailed assessment:

1. Room type (bedroom, living room, kitchen, etc.)
2. Estimated dimensions (approximate width x length in meters)
3. Existing features (windows, doors, built-ins, electrical outlets)
4. Natural lighting conditions
5. Suggested design styles that would work well
6. Recommended color palette based on lighting and space

Return only a JSON object with this structure:
{
    "room_type": "string",
    "dimensions_estimate": {"width": number, "length": number},
    "existing_features": ["feature1", "feature2"],
    "lighting_conditions": "string",
    "style_suggestions": ["style1", "style2", "style3"],
    "color_palette": ["color1", "color2", "color3"]
}`

// AnalyzeRoom implements stages.RoomAnalyzer.
func (o *OpenAIVision) AnalyzeRoom(ctx context.Context, image []byte, contentType string) (datatypes.RoomAnalysis, error) {
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: analyzePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var analysis datatypes.RoomAnalysis
	if err := o.completeJSON(ctx, req, &analysis); err != nil {
		return datatypes.RoomAnalysis{}, err
	}
	return analysis, nil
}

// PlanDesign implements stages.Planner.
func (o *OpenAIVision) PlanDesign(ctx context.Context, a datatypes.RoomAnalysis, tips []string) (datatypes.DesignPlan, error) {
	var b strings.Builder
	b.WriteString("Based on this room analysis, create a detailed interior design plan.\n\n")
	fmt.Fprintf(&b, "Room Type: %s\n", a.RoomType)
	if a.Dimensions != nil {
		fmt.Fprintf(&b, "Dimensions: %gm x %gm\n", a.Dimensions.Width, a.Dimensions.Length)
	}
	fmt.Fprintf(&b, "Lighting: %s\n", a.LightingConditions)
	fmt.Fprintf(&b, "Existing Features: %s\n", strings.Join(a.ExistingFeatures, ", "))
	fmt.Fprintf(&b, "Style Suggestions: %s\n", strings.Join(a.StyleSuggestions, ", "))
	fmt.Fprintf(&b, "Color Palette: %s\n", strings.Join(a.ColorPalette, ", "))
	if len(tips) > 0 {
		b.WriteString("\nDesign principles to follow:\n")
		for _, t := range tips {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	b.WriteString(`
Return only a JSON object:
{
    "design_style": "string",
    "budget_estimate": number,
    "furniture_needed": [
        {"item": "string", "category": "string", "priority": "high/medium/low", "quantity": number,
         "attributes": ["string"], "position": {"x": 0.0-1.0, "y": 0.0-1.0}}
    ],
    "color_scheme": ["color1", "color2", "color3"],
    "layout_description": "detailed layout plan"
}`)

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are an experienced interior designer."},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var plan datatypes.DesignPlan
	if err := o.completeJSON(ctx, req, &plan); err != nil {
		return datatypes.DesignPlan{}, err
	}
	plan.Markdown = ""
	return plan, nil
}

// RenderDesign implements stages.Renderer using the image edit endpoint.
func (o *OpenAIVision) RenderDesign(ctx context.Context, req stages.RenderRequest) (stages.Rendering, error) {
	prompt := renderPrompt(req)
	ct := req.ContentType
	if ct == "" {
		ct = http.DetectContentType(req.Image)
	}

	editReq := openai.ImageEditRequest{
		Image:  &namedReader{Reader: bytes.NewReader(req.Image), name: "room" + extensionFor(ct), contentType: ct},
		Prompt: prompt,
		Model:  o.imageModel,
		N:      1,
		Size:   o.imageSize,

		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}

	resp, err := o.client.CreateEditImage(ctx, editReq)
	if err != nil {
		return stages.Rendering{}, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return stages.Rendering{Description: describeDesign(req)}, nil
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return stages.Rendering{}, stages.External(fmt.Errorf("decode rendered image: %w", err))
	}
	return stages.Rendering{Image: img, ContentType: "image/png", Description: describeDesign(req)}, nil
}

// completeJSON runs a chat completion and decodes the JSON answer into v.
func (o *OpenAIVision) completeJSON(ctx context.Context, req openai.ChatCompletionRequest, v any) error {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return stages.External(errors.New("openai returned no choices"))
	}
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return stages.External(fmt.Errorf("decode model output: %w", err))
	}
	return nil
}

// classifyOpenAIError maps client errors onto the stage error taxonomy.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stages.Timeout(err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return classifyStatus(status, err)
}

// classifyStatus maps an HTTP status onto the taxonomy. 0 means the request
// never got an answer.
func classifyStatus(status int, err error) error {
	switch {
	case status == 0:
		return stages.External(err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return stages.Timeout(err)
	case status == http.StatusTooManyRequests || status >= 500:
		return stages.External(err)
	case status >= 400:
		return stages.Validation(err)
	default:
		return stages.External(err)
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func renderPrompt(req stages.RenderRequest) string {
	var b strings.Builder
	b.WriteString("Generate a photorealistic interior design visualization of this empty room, furnished.\n\n")
	if req.Plan != nil {
		fmt.Fprintf(&b, "Style: %s\n", req.Plan.DesignStyle)
		fmt.Fprintf(&b, "Color Scheme: %s\n", strings.Join(req.Plan.ColorScheme, ", "))
		if req.Plan.LayoutDescription != "" {
			fmt.Fprintf(&b, "Layout: %s\n", req.Plan.LayoutDescription)
		}
	}
	for i, it := range req.Items {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "\nFurniture %d: %s", i+1, it.Title)
		if it.Category != nil {
			fmt.Fprintf(&b, " (%s)", *it.Category)
		}
	}
	b.WriteString("\n\nKeep the room's architecture and windows. Place every piece sensibly, " +
		"with appropriate lighting, so the space looks cohesive and livable.")
	return b.String()
}

func describeDesign(req stages.RenderRequest) string {
	if req.Plan == nil {
		return ""
	}
	room := "room"
	if req.Analysis != nil && req.Analysis.RoomType != "" {
		room = req.Analysis.RoomType
	}
	desc := fmt.Sprintf("A %s %s furnished with %d selected pieces.", strings.ToLower(req.Plan.DesignStyle), room, len(req.Items))
	if req.Plan.LayoutDescription != "" {
		desc += " " + req.Plan.LayoutDescription
	}
	return desc
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// namedReader gives the multipart form builder a filename and content type.
type namedReader struct {
	io.Reader
	name        string
	contentType string
}

func (n *namedReader) Name() string        { return n.name }
func (n *namedReader) ContentType() string { return n.contentType }

var (
	_ stages.RoomAnalyzer = (*OpenAIVision)(nil)
	_ stages.Planner      = (*OpenAIVision)(nil)
	_ stages.Renderer     = (*OpenAIVision)(nil)
)
