package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/memvect/memvect/pkg/core"
)

const extractionSystemPrompt = `You are a memory extraction system for an AI agent.
Your task is to analyze the conversation and extract important information that should be remembered.

Extract the following types of memories:
1. Preferences: What the user likes/dislikes, their style, choices
2. Facts: Objective information about the user, their work, their situation
3. Tasks: Action items, goals, things the user wants to accomplish

For each memory, provide:
- content: The specific information to remember
- category: One of [preference, fact, task, general]
- importance: Score 0.0-1.0 (how important is this to remember)
- confidence: Score 0.0-1.0 (how certain are you about this)

Respond in JSON format:
{
  "memories": [
    {
      "content": "...",
      "category": "preference|fact|task|general",
      "importance": 0.8,
      "confidence": 0.9
    }
  ]
}`

// LLMOptions configure the LLM extractor.
type LLMOptions struct {
	Model       string
	Temperature float64
}

// LLMExtractor extracts memories with the OpenAI Chat Completions API.
type LLMExtractor struct {
	client *openai.Client
	opts   LLMOptions
	logger core.Logger
}

// NewLLMExtractor creates an extractor using the default OpenAI client, which
// reads OPENAI_API_KEY from the environment.
func NewLLMExtractor(optFns ...func(o *LLMOptions)) *LLMExtractor {
	client := openai.NewClient()
	return NewLLMExtractorFromClient(&client, optFns...)
}

// NewLLMExtractorFromClient creates an extractor from an existing client.
func NewLLMExtractorFromClient(client *openai.Client, optFns ...func(o *LLMOptions)) *LLMExtractor {
	opts := LLMOptions{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LLMExtractor{client: client, opts: opts, logger: core.NopLogger()}
}

// SetLogger replaces the extractor's logger.
func (e *LLMExtractor) SetLogger(logger core.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Extract sends the transcript to the model and parses its JSON reply.
func (e *LLMExtractor) Extract(ctx context.Context, messages []Message) ([]Candidate, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(msg.Role), msg.Content)
	}

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       e.opts.Model,
		Temperature: openai.Float(e.opts.Temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage("Conversation:\n" + b.String()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	candidates, err := parseCandidates(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("extracted candidates", "count", len(candidates))
	return candidates, nil
}

// parseCandidates decodes the model's JSON reply, tolerating a code fence
// around the object.
func parseCandidates(raw string) ([]Candidate, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}

	var parsed struct {
		Memories []Candidate `json:"memories"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return parsed.Memories, nil
}
