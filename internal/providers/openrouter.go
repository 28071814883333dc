package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig configures the OpenRouter client
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string // defaults to https://openrouter.ai/api/v1
	SiteURL  string // sent as HTTP-Referer
	SiteName string // sent as X-Title

	// HTTPClient overrides the pooled default client
	HTTPClient *http.Client
}

// OpenRouterProvider talks to OpenRouter through its OpenAI-compatible API.
// SDK retries are disabled: a failed call is reported once and the caller
// decides whether another model should be tried.
type OpenRouterProvider struct {
	client  openai.Client
	baseURL string
}

// NewOpenRouterProvider creates an OpenRouter client. It returns
// ErrMissingCredentials when no API key is configured.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openRouterDefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	return &OpenRouterProvider{
		client:  openai.NewClient(opts...),
		baseURL: baseURL,
	}, nil
}

// ChatCompletion sends messages to model and returns the first choice.
// Failures are reported as *UpstreamError.
func (p *OpenRouterProvider) ChatCompletion(ctx context.Context, model string, messages []ChatMessage) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapUpstreamError(model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{Model: model, StatusCode: http.StatusOK, Err: ErrNoChoices}
	}

	msg := resp.Choices[0].Message
	role := Role(msg.Role)
	if role == "" {
		role = RoleAssistant
	}

	return &Completion{
		ID:            resp.ID,
		Model:         model,
		UpstreamModel: resp.Model,
		Role:          role,
		Content:       msg.Content,
		Refusal:       msg.Refusal,
	}, nil
}

type modelsResponse struct {
	Data []RemoteModel `json:"data"`
}

// ListModels returns the full OpenRouter model list
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]RemoteModel, error) {
	var out modelsResponse
	if err := p.client.Get(ctx, "models", nil, &out); err != nil {
		return nil, wrapUpstreamError("models", err)
	}
	return out.Data, nil
}

// BaseURL returns the normalized upstream base URL
func (p *OpenRouterProvider) BaseURL() string {
	return p.baseURL
}

func wrapUpstreamError(model string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Model: model, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &UpstreamError{Model: model, Err: err}
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text()))
		default:
			if !m.IsMultipart() {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			out = append(out, openai.UserMessage(toOpenAIParts(m.Parts)))
		}
	}
	return out
}

func toOpenAIParts(parts []ContentPart) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.ImageURL.URL,
			}))
		default:
			out = append(out, openai.TextContentPart(p.Text))
		}
	}
	return out
}
