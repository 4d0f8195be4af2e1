package providers

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// GeminiConfig configures the Google Gemini client.
type GeminiConfig struct {
	Name        string // provider name in error reports, defaults to "google"
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Gemini talks to the Gemini API through the genai SDK. It accepts
// multimodal requests.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini builds the client. The context is used for SDK setup only.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"gemini api key is required").WithProvider(cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGoogleModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"gemini client setup failed: %s", err.Error()).
			WithProvider(cfg.Name).WithCause(err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Invoke(ctx context.Context, req schema.Request) (*schema.Response, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.Model
	}

	config := &genai.GenerateContentConfig{}
	if t := pickTemperature(req.Temperature, g.cfg.Temperature); t != nil {
		config.Temperature = genai.Ptr(float32(*t))
	}
	if tokens := pickMaxTokens(req.MaxTokens, g.cfg.MaxTokens); tokens > 0 {
		config.MaxOutputTokens = int32(tokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, g.wrapError(err)
	}

	resp := &schema.Response{
		Content: result.Text(),
		Model:   model,
	}
	if len(result.Candidates) > 0 {
		resp.FinishReason = string(result.Candidates[0].FinishReason)
	}
	if result.UsageMetadata != nil {
		resp.Usage = schema.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func (g *Gemini) SupportsMultimodal() bool { return true }

func (g *Gemini) wrapError(err error) error {
	perr := &schema.ProviderError{
		Provider: g.cfg.Name,
		Message:  err.Error(),
		Err:      err,
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.Code
		if apiErr.Message != "" {
			perr.Message = apiErr.Message
		}
	}
	return perr
}

func pickTemperature(request, configured *float64) *float64 {
	if request != nil {
		return request
	}
	return configured
}

func pickMaxTokens(request, configured int) int {
	if request > 0 {
		return request
	}
	return configured
}
