package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
//
// Example:
//
//	resp, err := client.GenerateCompletion(ctx, "Who wrote Dune?")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(resp.Text)
func (c *GraphOpenAIClient) GenerateCompletion(
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

	body := c.newBody(prompt, options)
	return c.complete(ctx, body)
}

// GenerateCompletionWithFormat sends a prompt to the chat model and
// constrains the answer to the JSON schema derived from out. The answer is
// returned undecoded; ai.Client takes care of parsing.
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	schema := ai.GenerateSchema(out)
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	body := c.newBody(prompt, options)
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: schemaParam,
		},
	}

	return c.complete(ctx, body)
}

// LoadModel is a no-op for OpenAI as models are loaded on-demand.
// It exists to satisfy the GraphAIClient interface.
func (c *GraphOpenAIClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	return nil
}

func (c *GraphOpenAIClient) newBody(prompt string, options ai.GenerateOptions) openai.ChatCompletionNewParams {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	model := options.Model
	if options.WebSearch && c.searchModel != "" {
		model = c.searchModel
	}

	body := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}

	if options.WebSearch && c.searchModel != "" {
		// search models reject sampling parameters
		body.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{}
	} else {
		body.Temperature = openai.Float(options.Temperature)
	}

	if options.Thinking != "" {
		// Needed fix for gpt-5 models as they dont support temperature other than 1.0 when reasoning is enabled
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	return body
}

func (c *GraphOpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (ai.Completion, error) {
	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return ai.Completion{}, classify(err)
	}
	duration := time.Since(start).Milliseconds()

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	})

	if len(response.Choices) == 0 {
		return ai.Completion{}, &common.UpstreamError{
			Service: "openai",
			Err:     fmt.Errorf("no choices in response from model"),
		}
	}
	choice := response.Choices[0]
	if choice.Message.Content == "" {
		logger.Warn("[OpenAI] Empty completion", "model", body.Model, "finish_reason", choice.FinishReason)
	}

	return ai.Completion{
		Text:             choice.Message.Content,
		GroundingSources: groundingSources(choice.Message),
	}, nil
}

// groundingSources collects URL citations, dropping duplicates.
func groundingSources(msg openai.ChatCompletionMessage) []common.GroundingSource {
	if len(msg.Annotations) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(msg.Annotations))
	out := make([]common.GroundingSource, 0, len(msg.Annotations))
	for _, a := range msg.Annotations {
		uri := a.URLCitation.URL
		if uri == "" {
			continue
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		title := a.URLCitation.Title
		if title == "" {
			title = uri
		}
		out = append(out, common.GroundingSource{URI: uri, Title: title})
	}
	return out
}
