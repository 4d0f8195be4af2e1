package providers

import (
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// ArkConfig configures an OpenAI-compatible client. The zero BaseURL
// targets Volcano Ark; point it at any compatible endpoint (DeepSeek,
// OpenAI) to reuse the client.
type ArkConfig struct {
	Name        string // provider name in error reports, defaults to "volcano"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	Multimodal  bool // doubao vision models accept images, text models do not
}

// Ark talks to OpenAI-compatible chat endpoints through the eino openai
// component.
type Ark struct {
	model *openai.ChatModel
	cfg   ArkConfig
}

// NewArk builds the client. The context is used for SDK setup only.
func NewArk(ctx context.Context, cfg ArkConfig) (*Ark, error) {
	if cfg.Name == "" {
		cfg.Name = "volcano"
	}
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"ark api key is required").WithProvider(cfg.Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArkBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultArkModel
	}

	chatConfig := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		chatConfig.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		tokens := cfg.MaxTokens
		chatConfig.MaxTokens = &tokens
	}

	cm, err := openai.NewChatModel(ctx, chatConfig)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"ark client setup failed: %s", err.Error()).
			WithProvider(cfg.Name).WithCause(err)
	}
	return &Ark{model: cm, cfg: cfg}, nil
}

func (a *Ark) Invoke(ctx context.Context, req schema.Request) (*schema.Response, error) {
	var messages []*einoschema.Message
	if req.System != "" {
		messages = append(messages, einoschema.SystemMessage(req.System))
	}
	messages = append(messages, einoschema.UserMessage(req.Prompt))

	var opts []model.Option
	usedModel := a.cfg.Model
	if req.Model != "" {
		usedModel = req.Model
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	out, err := a.model.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, a.wrapError(err)
	}

	resp := &schema.Response{
		Content: out.Content,
		Model:   usedModel,
	}
	if out.ResponseMeta != nil {
		resp.FinishReason = out.ResponseMeta.FinishReason
		if out.ResponseMeta.Usage != nil {
			resp.Usage = schema.Usage{
				PromptTokens:     out.ResponseMeta.Usage.PromptTokens,
				CompletionTokens: out.ResponseMeta.Usage.CompletionTokens,
				TotalTokens:      out.ResponseMeta.Usage.TotalTokens,
			}
		}
	}
	return resp, nil
}

func (a *Ark) SupportsMultimodal() bool { return a.cfg.Multimodal }

func (a *Ark) wrapError(err error) error {
	msg := err.Error()
	perr := &schema.ProviderError{
		Provider: a.cfg.Name,
		Message:  msg,
		Err:      err,
	}
	if code, ok := statusFromMessage(msg); ok {
		perr.StatusCode = code
	}
	return perr
}

// statusFromMessage recovers the HTTP status from the component's error
// text, which stringifies API failures as "... status code: 429, ...".
func statusFromMessage(msg string) (int, bool) {
	const marker = "status code: "
	i := strings.Index(msg, marker)
	if i < 0 {
		return 0, false
	}
	rest := msg[i+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}
