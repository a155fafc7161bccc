package graph

import (
	"context"
	"strings"
	"sync"

	"github.com/biomedkg/kgx/pkg/ai"
)

// scriptedCompleter answers entity prompts and relation prompts with fixed
// replies and records every call.
type scriptedCompleter struct {
	entityReply   string
	relationReply string

	mu      sync.Mutex
	prompts []string
	opts    []ai.GenerateOptions
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) ai.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, ai.ApplyOptions(ai.GenerateOptions{}, opts...))

	if err := ctx.Err(); err != nil {
		return ai.Completion{Err: err}
	}
	if strings.Contains(prompt, "实体识别专家") {
		return ai.Completion{Content: s.entityReply, Model: "fake"}
	}
	return ai.Completion{Content: s.relationReply, Model: "fake"}
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
