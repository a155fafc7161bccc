package ollama

import (
	"net/http"
	"net/url"

	"github.com/biomedkg/kgx/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GraphOllamaClient implements ai.Transport against a locally hosted
// Ollama server.
type GraphOllamaClient struct {
	model        string
	tokenEncoder string

	ai.MetricsTracker

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
//
// TokenEncoder names the tiktoken encoding used to size the context
// window; it defaults to o200k_base.
type NewGraphOllamaClientParams struct {
	Model        string
	BaseURL      string
	ApiKey       string
	TokenEncoder string
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based transport. An empty
// BaseURL selects the default local server.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.ApiKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.ApiKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	var cli *api.Client
	if u != nil {
		cli = api.NewClient(u, httpClient)
	} else {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}

	return &GraphOllamaClient{
		model:        params.Model,
		tokenEncoder: encoder,
		Client:       cli,
	}, nil
}
