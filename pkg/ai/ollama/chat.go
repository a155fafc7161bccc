package ollama

import (
	"context"
	"errors"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/logger"

	"github.com/ollama/ollama/api"
)

const (
	defaultContext  = 4096
	contextHeadroom = 200
)

// GenerateCompletion sends a single-turn prompt and returns assistant text.
// The context window is widened when the prompt needs more than the
// server default.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}

	if tokens, err := ai.EstimateTokens(c.tokenEncoder, prompt); err != nil {
		logger.Debug("[Ollama] Token estimate unavailable", "err", err)
	} else if need := tokens + options.MaxTokens + contextHeadroom; need > defaultContext {
		req.Options["num_ctx"] = need
	}

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", toStatusError(err)
	}

	c.Add(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return final.Message.Content, nil
}

func toStatusError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		message := statusErr.ErrorMessage
		if message == "" {
			message = statusErr.Status
		}
		return &ai.StatusError{StatusCode: statusErr.StatusCode, Message: ai.ErrorMessage(message)}
	}
	return err
}
