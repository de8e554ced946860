// Package query answers chat questions from retrieved graph context.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"
)

var ErrNoQuestion = errors.New("no user message to answer")

// Retriever produces the context for one question.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Result, error)
}

type queryOptions struct {
	SystemPrompts []string
	Model         string
	Thinking      string
	Temperature   float64
	Tracer        Tracer
}

// QueryOption is a functional option for configuring query behavior.
type QueryOption func(*queryOptions)

// WithSystemPrompts returns a QueryOption that appends additional system
// prompts to guide the AI's response generation.
func WithSystemPrompts(prompts ...string) QueryOption {
	return func(o *queryOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel returns a QueryOption that specifies which AI model to use
// for generating responses.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) {
		o.Model = model
	}
}

func WithThinking(thinking string) QueryOption {
	return func(o *queryOptions) {
		o.Thinking = thinking
	}
}

// WithTemperature overrides the client's sampling temperature for answers.
func WithTemperature(temp float64) QueryOption {
	return func(o *queryOptions) {
		o.Temperature = temp
	}
}

// WithTracer records what each answer looked at.
func WithTracer(t Tracer) QueryOption {
	return func(o *queryOptions) {
		o.Tracer = t
	}
}

// Client combines a retriever with the chat model.
type Client struct {
	aiClient  ai.GraphAIClient
	retriever Retriever
	options   queryOptions
}

func NewClient(aiC ai.GraphAIClient, r Retriever, opts ...QueryOption) *Client {
	c := Client{aiClient: aiC, retriever: r}
	for _, o := range opts {
		o(&c.options)
	}
	return &c
}

type Answer struct {
	Message  string             `json:"message"`
	Score    float64            `json:"score"`
	Metadata retrieval.Metadata `json:"metadata"`
}

// Answer retrieves context for the last user message and answers it with the
// whole conversation. Without context it answers that nothing was found
// instead of guessing.
func (c *Client) Answer(
	ctx context.Context,
	msgs []ai.ChatMessage,
	mode retrieval.Mode,
	documentNames []string,
) (Answer, error) {
	question := lastUserMessage(msgs)
	if question == "" {
		return Answer{}, ErrNoQuestion
	}

	res, err := c.retriever.Retrieve(ctx, retrieval.Request{
		Question:      question,
		Mode:          mode,
		DocumentNames: documentNames,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("failed to retrieve context: %w", err)
	}
	c.trace(res.Metadata)

	out := Answer{Score: res.Score, Metadata: res.Metadata}
	if strings.TrimSpace(res.Text) == "" {
		out.Message, err = c.generateNoDataResponse(ctx, question)
		return out, err
	}

	systemPrompts := append([]string{fmt.Sprintf(ai.AnswerPrompt, res.Text)}, c.options.SystemPrompts...)
	generateOpts := []ai.GenerateOption{ai.WithSystemPrompts(systemPrompts...)}
	if c.options.Model != "" {
		generateOpts = append(generateOpts, ai.WithModel(c.options.Model))
	}
	if c.options.Thinking != "" {
		generateOpts = append(generateOpts, ai.WithThinking(c.options.Thinking))
	}
	if c.options.Temperature > 0 {
		generateOpts = append(generateOpts, ai.WithTemperature(c.options.Temperature))
	}

	out.Message, err = c.aiClient.GenerateChat(ctx, msgs, generateOpts...)
	if err != nil {
		return out, fmt.Errorf("failed to generate answer from AI: %w", err)
	}
	return out, nil
}

// generateNoDataResponse generates a response in the user's language when no
// relevant context is found in the knowledge graph.
func (c *Client) generateNoDataResponse(ctx context.Context, question string) (string, error) {
	prompt := fmt.Sprintf(ai.NoDataPrompt, question)
	res, err := c.aiClient.GenerateCompletion(ctx, prompt)
	if err != nil {
		logger.Error("[Query] Failed to generate no data response", "err", err)
		return "There was a server error, please try again later.", err
	}
	return res, nil
}

func (c *Client) trace(m retrieval.Metadata) {
	t := c.options.Tracer
	if t == nil {
		return
	}
	RecordConsideredSourceIDs(t, m.Sources...)
	RecordUsedChunkIDs(t, detailIDs(m.ChunkDetails)...)
	RecordQueriedEntityIDs(t, append(detailIDs(m.EntityDetails), m.Entities.EntityIDs...)...)
	RecordQueriedRelationshipIDs(t, m.Entities.RelationshipIDs...)
	RecordQueriedCommunityIDs(t, detailIDs(m.CommunityDetails)...)
}

func detailIDs(details []retrieval.Detail) []string {
	ids := make([]string, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ID)
	}
	return ids
}

func lastUserMessage(msgs []ai.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Message) != "" {
			return msgs[i].Message
		}
	}
	return ""
}
