// Package aitest provides a scriptable ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
)

// Client answers from the configured funcs and records every prompt.
// Nil funcs produce an empty reply or a zero vector.
type Client struct {
	ai.MetricsRecorder

	Dimensions int
	Complete   func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)
	Chat       func(ctx context.Context, messages []ai.ChatMessage, opts ai.GenerateOptions) (string, error)
	Embed      func(ctx context.Context, input string) ([]float32, error)

	mu      sync.Mutex
	prompts []string
	formats []string
	embeds  []string
}

var _ ai.GraphAIClient = (*Client)(nil)

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.Complete == nil {
		return "", nil
	}
	return c.Complete(ctx, prompt, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
}

// GenerateCompletionWithFormat decodes the Complete reply into out. The
// schema derived from out is recorded with the format name.
func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	_ string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if _, err := json.Marshal(ai.GenerateSchema(out)); err != nil {
		return err
	}
	c.mu.Lock()
	c.formats = append(c.formats, name)
	c.mu.Unlock()

	reply, err := c.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return err
	}
	if reply == "" {
		return errors.New("empty reply")
	}
	return ai.UnmarshalFlexible(reply, out)
}

func (c *Client) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	if c.Chat == nil {
		return "", nil
	}
	return c.Chat(ctx, messages, ai.ApplyOptions(ai.GenerateOptions{}, opts...))
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.mu.Lock()
	c.embeds = append(c.embeds, string(input))
	c.mu.Unlock()

	if c.Embed == nil {
		return make([]float32, c.Dimensions), nil
	}
	return c.Embed(ctx, string(input))
}

func (c *Client) EmbeddingDimensions() int {
	return c.Dimensions
}

// Prompts returns the completion prompts in call order.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Formats returns the format names of structured completions in call order.
func (c *Client) Formats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.formats...)
}

// Embedded returns the embedding inputs in call order.
func (c *Client) Embedded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.embeds...)
}
