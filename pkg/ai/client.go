package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/cache"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/ratelimit"
)

// Mode selects between free text and schema-constrained output.
type Mode int

const (
	ModeText Mode = iota
	ModeSchema
)

func (m Mode) String() string {
	if m == ModeSchema {
		return "schema"
	}
	return "text"
}

// Request is a single generative call.
type Request struct {
	Prompt string
	// Model overrides the provider default when set.
	Model string
	Mode  Mode
	// SchemaName and SchemaDescription label the schema in schema mode.
	SchemaName        string
	SchemaDescription string
	// Out must be a non-nil pointer in schema mode. The schema is derived
	// from its type and the decoded answer is written into it.
	Out       any
	WebSearch bool
	// System prompts are sent ahead of Prompt, e.g. CartographerRole.
	System []string
}

// Response is the answer of a generative call. In schema mode Text keeps
// the undecoded answer.
type Response struct {
	Text             string
	GroundingSources []common.GroundingSource
}

// ClientParams configures NewClient.
type ClientParams struct {
	Provider GraphAIClient
	// Limiter is checked once per uncached request. Nil disables it.
	Limiter  *ratelimit.SlidingWindow
	Retry    util.RetryOptions
	CacheMax int
	CacheTTL time.Duration
	// Shared is an optional second cache tier consulted after the LRU.
	Shared *cache.RedisStore
	// Temperature overrides the provider's sampling temperature when > 0.
	Temperature float64
	// Thinking enables the provider's reasoning mode ("low", "medium",
	// "high") when set.
	Thinking string
}

const (
	defaultCacheMax = 256
	defaultCacheTTL = 30 * time.Minute
	serviceName     = "generative"
)

// Generator is what the graph operations need from the generative side.
// *Client implements it.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Client wraps a provider with the shared retry policy, a response cache
// and the client-side rate limiter. It is safe for concurrent use.
type Client struct {
	provider GraphAIClient
	limiter  *ratelimit.SlidingWindow
	retry    util.RetryOptions
	cache    *cache.LRU[string, Completion]
	shared   *cache.RedisStore

	temperature float64
	thinking    string
}

// NewClient creates a Client. Zero cache settings fall back to 256 entries
// valid for 30 minutes.
func NewClient(params ClientParams) *Client {
	size := params.CacheMax
	if size <= 0 {
		size = defaultCacheMax
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	retry := params.Retry
	if retry.Name == "" {
		retry.Name = serviceName
	}
	return &Client{
		provider: params.Provider,
		limiter:  params.Limiter,
		retry:    retry,
		cache:    cache.New[string, Completion](size, ttl),
		shared:   params.Shared,

		temperature: params.Temperature,
		thinking:    params.Thinking,
	}
}

// Provider returns the wrapped backend.
func (c *Client) Provider() GraphAIClient {
	return c.provider
}

// Generate runs req against the provider. Cached answers skip the limiter
// and the network. Transient upstream failures are retried; a schema answer
// that cannot be decoded yields a *common.ParseError carrying the raw text
// and is neither retried nor cached.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, common.NewValidationError("prompt", "must not be empty")
	}
	if req.Mode == ModeSchema {
		if req.Out == nil {
			return Response{}, errors.New("schema mode requires an output target")
		}
		rv := reflect.ValueOf(req.Out)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return Response{}, errors.New("schema mode output must be a non-nil pointer")
		}
	}

	key := cacheKey(req)
	if completion, ok := c.lookup(ctx, key); ok {
		metrics.CacheHit(serviceName)
		if err := decode(req, completion); err != nil {
			// a bad entry should not stick around
			c.cache.Delete(key)
		} else {
			return toResponse(completion), nil
		}
	} else {
		metrics.CacheMiss(serviceName)
	}

	if ok, retryAfter := c.limiter.Check(); !ok {
		metrics.RateLimited(serviceName)
		return Response{}, &common.RateLimitError{RetryAfter: retryAfter}
	}

	opts := c.options(req)
	completion, err := util.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (Completion, error) {
		start := time.Now()
		var (
			out Completion
			err error
		)
		if req.Mode == ModeSchema {
			out, err = c.provider.GenerateCompletionWithFormat(
				ctx, req.SchemaName, req.SchemaDescription, req.Prompt, req.Out, opts...,
			)
		} else {
			out, err = c.provider.GenerateCompletion(ctx, req.Prompt, opts...)
		}
		metrics.ObserveUpstream(serviceName, start, err)
		return out, err
	})
	if err != nil {
		logger.Error("[AI] Generation failed", "mode", req.Mode, "schema", req.SchemaName, "err", err)
		return Response{}, err
	}

	if err := decode(req, completion); err != nil {
		logger.Warn("[AI] Could not decode structured answer", "schema", req.SchemaName, "err", err)
		return Response{Text: completion.Text}, err
	}

	c.store(ctx, key, completion)
	return toResponse(completion), nil
}

func (c *Client) options(req Request) []GenerateOption {
	opts := []GenerateOption{WithModel(req.Model), WithWebSearch(req.WebSearch)}
	if len(req.System) > 0 {
		opts = append(opts, WithSystemPrompts(req.System...))
	}
	if c.temperature > 0 {
		opts = append(opts, WithTemperature(c.temperature))
	}
	if c.thinking != "" {
		opts = append(opts, WithThinking(c.thinking))
	}
	return opts
}

func (c *Client) lookup(ctx context.Context, key string) (Completion, bool) {
	if v, ok := c.cache.Get(key); ok {
		return v, true
	}
	if c.shared == nil {
		return Completion{}, false
	}

	raw, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		logger.Warn("[AI] Shared cache read failed", "err", err)
		return Completion{}, false
	}
	if !ok {
		return Completion{}, false
	}
	var completion Completion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Completion{}, false
	}
	c.cache.Set(key, completion)
	return completion, true
}

func (c *Client) store(ctx context.Context, key string, completion Completion) {
	c.cache.Set(key, completion)
	if c.shared == nil {
		return
	}
	raw, err := json.Marshal(completion)
	if err != nil {
		return
	}
	if err := c.shared.Set(ctx, key, raw); err != nil {
		logger.Warn("[AI] Shared cache write failed", "err", err)
	}
}

func decode(req Request, completion Completion) error {
	if req.Mode != ModeSchema {
		return nil
	}
	text := StripCodeFences(completion.Text)
	if text == "" {
		return &common.ParseError{Raw: completion.Text, Err: errors.New("empty response")}
	}
	if err := UnmarshalFlexible(text, req.Out); err != nil {
		return &common.ParseError{Raw: completion.Text, Err: err}
	}
	return nil
}

func toResponse(c Completion) Response {
	sources := make([]common.GroundingSource, len(c.GroundingSources))
	copy(sources, c.GroundingSources)
	return Response{Text: c.Text, GroundingSources: sources}
}

func cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%t\x00", req.Mode, req.Model, req.SchemaName, req.WebSearch)
	for _, sp := range req.System {
		h.Write([]byte(sp))
		h.Write([]byte{0})
	}
	h.Write([]byte(req.Prompt))
	return "ai:" + hex.EncodeToString(h.Sum(nil))
}
