package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	DefaultMinInterval   = 1200 * time.Millisecond
	DefaultBackoffFactor = 1.5
	DefaultMaxRetries    = 5

	// retryAfterScale pads the server supplied Retry-After window.
	retryAfterScale = 1.2
)

// ErrModelsExhausted is reported in Completion.Err when no model produced
// an answer.
var ErrModelsExhausted = errors.New("all models exhausted")

var retryAfterPattern = regexp.MustCompile(`after (\d+) seconds`)

// RequestRecorder receives one observation per completion attempt.
type RequestRecorder interface {
	ObserveRequest(model string, outcome string)
}

// Client wraps a Transport with a model fallback chain, a minimum interval
// between requests and bounded retries. It is safe for concurrent use, but
// all callers share one rate limit.
//
// A Client should be created using NewClient.
type Client struct {
	transport     Transport
	models        []string
	backoffBase   time.Duration
	backoffFactor float64
	maxRetries    int
	limiter       *rate.Limiter
	sleep         func(context.Context, time.Duration) error
	recorder      RequestRecorder
}

// NewClientParams defines the configuration for NewClient.
//
// PrimaryModel is always tried first; FallbackModels follow in order with
// duplicates removed. MinInterval is the minimum spacing between two
// requests and also the base of the exponential backoff; a negative value
// disables spacing. Sleep replaces the context-aware wait used between
// retries.
type NewClientParams struct {
	Transport      Transport
	PrimaryModel   string
	FallbackModels []string
	MinInterval    time.Duration
	BackoffFactor  float64
	MaxRetries     int
	Sleep          func(context.Context, time.Duration) error
	Recorder       RequestRecorder
}

// NewClient creates a Client. Zero values in params fall back to
// DefaultMinInterval, DefaultBackoffFactor and DefaultMaxRetries.
func NewClient(params NewClientParams) (*Client, error) {
	if params.Transport == nil {
		return nil, errors.New("transport is required")
	}
	models := modelChain(params.PrimaryModel, params.FallbackModels)
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}

	minInterval := params.MinInterval
	switch {
	case minInterval == 0:
		minInterval = DefaultMinInterval
	case minInterval < 0:
		minInterval = 0
	}
	factor := params.BackoffFactor
	if factor <= 0 {
		factor = DefaultBackoffFactor
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	sleep := params.Sleep
	if sleep == nil {
		sleep = util.Sleep
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	return &Client{
		transport:     params.Transport,
		models:        models,
		backoffBase:   minInterval,
		backoffFactor: factor,
		maxRetries:    maxRetries,
		limiter:       rate.NewLimiter(limit, 1),
		sleep:         sleep,
		recorder:      params.Recorder,
	}, nil
}

func modelChain(primary string, fallbacks []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(fallbacks)+1)
	for _, m := range append([]string{primary}, fallbacks...) {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Models returns the fallback chain in the order it is tried.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// Metrics exposes the token and timing totals of the underlying transport.
func (c *Client) Metrics() ModelMetrics {
	return c.transport.GetMetrics()
}

// Complete sends prompt to each model in turn until one answers.
//
// Per model: HTTP 429 waits for the advertised window and retries, HTTP 404
// moves straight to the next model, anything else backs off exponentially
// and retries up to the retry budget. It never returns an error; when all
// models fail the Completion has empty Content and Err describes the last
// failure. Cancelling ctx stops the loop at the next wait.
func (c *Client) Complete(ctx context.Context, prompt string, opts ...GenerateOption) Completion {
	attempts := 0
	var lastErr error

	for _, model := range c.models {
		callOpts := append(append([]GenerateOption(nil), opts...), WithModel(model))

	retries:
		for attempt := 1; attempt <= c.maxRetries; attempt++ {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.abort(ctx, attempts, err)
			}

			attempts++
			content, err := c.transport.GenerateCompletion(ctx, prompt, callOpts...)
			if err == nil {
				c.observe(model, "success")
				return Completion{Content: content, Model: model, Attempts: attempts}
			}
			if ctx.Err() != nil {
				return c.abort(ctx, attempts, ctx.Err())
			}
			lastErr = err

			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				switch statusErr.StatusCode {
				case 429:
					c.observe(model, "rate_limited")
					wait := time.Duration(float64(RetryAfter(statusErr.Message)) * retryAfterScale)
					logger.Warn("[AI] Rate limited", "model", model, "wait", wait, "attempt", attempt)
					if err := c.sleep(ctx, wait); err != nil {
						return c.abort(ctx, attempts, err)
					}
					continue
				case 404:
					c.observe(model, "not_found")
					logger.Warn("[AI] Model not available, trying next", "model", model)
					break retries
				}
			}

			c.observe(model, "error")
			logger.Warn("[AI] Request failed", "model", model, "attempt", attempt, "err", err)
			if attempt < c.maxRetries {
				if err := c.sleep(ctx, util.BackoffDelay(c.backoffBase, c.backoffFactor, attempt)); err != nil {
					return c.abort(ctx, attempts, err)
				}
			}
		}
	}

	logger.Error("[AI] All models failed", "models", c.models, "attempts", attempts, "err", lastErr)
	return Completion{Attempts: attempts, Err: fmt.Errorf("%w: %v", ErrModelsExhausted, lastErr)}
}

func (c *Client) abort(ctx context.Context, attempts int, err error) Completion {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return Completion{Attempts: attempts, Err: err}
}

func (c *Client) observe(model, outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveRequest(model, outcome)
	}
}

// RetryAfter extracts the "after N seconds" hint from a rate limit message.
// It defaults to one second.
func RetryAfter(message string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return time.Second
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
