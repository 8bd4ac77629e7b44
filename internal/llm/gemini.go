package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"autopack/internal/logging"
)

// GeminiClient implements Client over the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logging.LLM("Gemini client created")
	return &GeminiClient{client: client}, nil
}

// Generate performs one generation call. A MAX_TOKENS finish reason maps
// to StopLength; as a fallback the output budget is compared against the
// reported output token count.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Gemini.Generate")
	defer timer.StopWithThreshold(30 * time.Second)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var contents []*genai.Content
	cfg := &genai.GenerateContentConfig{}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	logging.LLMDebug("Gemini.Generate: model=%s messages=%d max_out=%d", req.Model, len(req.Messages), req.MaxOutputTokens)

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return &Result{StopReason: StopError}, nil
	}

	cand := resp.Candidates[0]
	result := &Result{Text: resp.Text(), StopReason: StopEnd}

	switch cand.FinishReason {
	case genai.FinishReasonMaxTokens:
		result.StopReason = StopLength
	case genai.FinishReasonStop:
		result.StopReason = StopEnd
	case genai.FinishReasonUnspecified:
		result.StopReason = StopEnd
	default:
		result.StopReason = StopError
	}

	if resp.UsageMetadata != nil {
		result.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		result.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
		// Providers without an explicit length stop: budget-equal output
		// means the generation was cut.
		if result.StopReason == StopEnd && req.MaxOutputTokens > 0 &&
			result.TokensOut >= req.MaxOutputTokens {
			result.StopReason = StopLength
		}
	}

	logging.LLMDebug("Gemini.Generate: stop=%s tokens_in=%d tokens_out=%d",
		result.StopReason, result.TokensIn, result.TokensOut)
	return result, nil
}
