package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// CompleterExecutor runs edge tasks through an LLM completion client.
type CompleterExecutor struct {
	Completer    interfaces.Completer
	SystemPrompt string
}

func (e CompleterExecutor) Execute(ctx context.Context, task string) (string, error) {
	var messages []interfaces.ChatMessage
	if e.SystemPrompt != "" {
		messages = append(messages, interfaces.ChatMessage{Role: "system", Content: e.SystemPrompt})
	}
	messages = append(messages, interfaces.ChatMessage{Role: "user", Content: task})

	result, err := e.Completer.Create(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return result, nil
}

// CompleterTransformer asks an LLM to turn a user command into an edge task.
// When Store is set, the items the core can read are passed along as context.
type CompleterTransformer struct {
	Completer    interfaces.Completer
	SystemPrompt string

	Store     interfaces.ItemStore
	Identity  string
	Clearance interfaces.ClearanceLevel
}

func (t CompleterTransformer) Transform(ctx context.Context, req TransformRequest) (string, error) {
	var messages []interfaces.ChatMessage
	if t.SystemPrompt != "" {
		messages = append(messages, interfaces.ChatMessage{Role: "system", Content: t.SystemPrompt})
	}

	if t.Store != nil {
		// never hand the model more than the requester may see
		level := t.Clearance
		if req.Clearance < level {
			level = req.Clearance
		}
		items, err := t.Store.FetchByClearance(ctx, level, t.Identity)
		if err != nil {
			return "", fmt.Errorf("failed to fetch context: %w", err)
		}
		if joined := JoinContent(items); joined != "" {
			messages = append(messages, interfaces.ChatMessage{Role: "system", Content: "Context:\n" + joined})
		}
	}
	messages = append(messages, interfaces.ChatMessage{Role: "user", Content: req.Content})

	task, err := t.Completer.Create(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return strings.TrimSpace(task), nil
}

// JoinContent concatenates the non-empty contents of items, one per line.
func JoinContent(items []interfaces.ContentItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Content != "" {
			parts = append(parts, item.Content)
		}
	}
	return strings.Join(parts, "\n")
}
