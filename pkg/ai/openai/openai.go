package openai

import (
	"time"

	"github.com/biomedkg/kgx/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultRequestTimeout bounds a single chat completion round trip.
const DefaultRequestTimeout = 60 * time.Second

// GraphOpenAIClient is an ai.Transport for OpenAI compatible chat
// completion endpoints such as Moonshot.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	model   string
	chatURL string

	ai.MetricsTracker

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// Model is used when a request carries no ai.WithModel option.
// ChatURL and ChatKey configure the endpoint; an empty ChatURL uses the
// SDK default. Timeout defaults to DefaultRequestTimeout.
type NewGraphOpenAIClientParams struct {
	Model   string
	ChatURL string
	ChatKey string
	Timeout time.Duration
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient.
// Retries inside the SDK are disabled; ai.Client owns the retry policy.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		Model:   "moonshot-v1-8k",
//		ChatURL: "https://api.moonshot.cn/v1",
//		ChatKey: os.Getenv("AI_CHAT_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &GraphOpenAIClient{
		model:      params.Model,
		chatURL:    params.ChatURL,
		ChatClient: newOpenaiClient(params.ChatURL, params.ChatKey, timeout),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
	timeout time.Duration,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
