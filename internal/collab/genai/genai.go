// Package genai adapts Google's Gemini API, via google.golang.org/genai, to
// the collab.LLMClient interface the core depends on.
package genai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"grits/internal/collab"
	"grits/internal/logging"
)

// defaultModel is a current Gemini text model, not an embedding-specific
// one.
const defaultModel = "gemini-2.5-flash"

// Client adapts *genai.Client to collab.LLMClient.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Client backed by the given API key. model defaults to
// defaultModel when empty.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	timer := logging.StartTimer(logging.CategoryRuntime, "genai.New")
	defer timer.Stop()

	if apiKey == "" {
		return nil, fmt.Errorf("genai: API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	return &Client{client: client, model: model}, nil
}

// Complete implements collab.LLMClient.
func (c *Client) Complete(ctx context.Context, req collab.CompletionRequest) (collab.CompletionResult, error) {
	timer := logging.StartTimer(logging.CategoryRuntime, "genai.Complete")
	defer timer.Stop()

	contents := []*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		logging.Get(logging.CategoryRuntime).Error("genai.Complete failed after %v: %v", latency, err)
		return collab.CompletionResult{}, collab.NewError(collab.ErrLLM, fmt.Errorf("genai: generate content: %w", err))
	}

	text := resp.Text()
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return collab.CompletionResult{Text: text, Model: c.model, Tokens: tokens}, nil
}
