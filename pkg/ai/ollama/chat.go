package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultContext = 4096
	// room for the answer on top of the prompt
	answerReserve = 1024
)

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	req := c.newRequest(prompt, options)
	return c.chat(ctx, req)
}

// GenerateCompletionWithFormat passes the JSON schema derived from out as
// the response format. The answer is returned undecoded.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	if out == nil {
		return ai.Completion{}, errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ai.Completion{}, errors.New("out must be a non-nil pointer")
	}

	schemaObj := ai.GenerateSchema(out)
	formatBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return ai.Completion{}, err
	}

	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	req := c.newRequest(prompt, options)
	req.Format = json.RawMessage(formatBytes)
	return c.chat(ctx, req)
}

// LoadModel preloads a model into memory to reduce latency on subsequent requests.
func (c *GraphOllamaClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	options := ai.GenerateOptions{
		Model: c.chatModel,
	}
	for _, o := range opts {
		o(&options)
	}

	req := &api.ChatRequest{
		Model: options.Model,
	}

	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		return nil
	}); err != nil {
		return classify(err)
	}

	return nil
}

func (c *GraphOllamaClient) newRequest(prompt string, options ai.GenerateOptions) *api.ChatRequest {
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

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	if tokens := contextSize(msgs); tokens > defaultContext {
		req.Options["num_ctx"] = tokens
	}
	return req
}

// contextSize estimates the context window needed for msgs. Falls back to
// the default when the tokenizer is unavailable.
func contextSize(msgs []api.Message) int {
	// a token is at least one byte, so short prompts never need counting
	size := answerReserve
	for _, m := range msgs {
		size += len(m.Content)
	}
	if size <= defaultContext {
		return defaultContext
	}

	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		logger.Debug("[Ollama] Tokenizer unavailable", "err", err)
		return defaultContext
	}
	tokens := answerReserve
	for _, m := range msgs {
		tokens += len(enc.Encode(m.Content, nil, nil))
	}
	return tokens
}

func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (ai.Completion, error) {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return ai.Completion{}, err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return ai.Completion{}, classify(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	// ollama has no web search, so there are never grounding sources
	return ai.Completion{Text: final.Message.Content}, nil
}
