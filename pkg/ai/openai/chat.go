package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biomedkg/kgx/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text. Failed HTTP exchanges
// come back as *ai.StatusError.
//
// Example:
//
//	resp, err := client.GenerateCompletion(ctx, "Extract entities...",
//		ai.WithTemperature(0.1), ai.WithMaxTokens(4000))
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	if options.MaxTokens > 0 {
		body.MaxTokens = openai.Int(int64(options.MaxTokens))
	}

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", toStatusError(err)
	}
	duration := time.Since(start).Milliseconds()

	c.Add(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	})

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", options.Model)
	}
	return response.Choices[0].Message.Content, nil
}

func toStatusError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	message := apiErr.Message
	if message == "" {
		message = ai.ErrorMessage(apiErr.RawJSON())
	}
	if message == "" {
		message = apiErr.Error()
	}
	return &ai.StatusError{StatusCode: apiErr.StatusCode, Message: message}
}
