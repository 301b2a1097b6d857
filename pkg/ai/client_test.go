package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/ratelimit"
)

// fakeProvider answers from a queue of scripted results.
type fakeProvider struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
	prompts []string
	options []GenerateOptions
}

type fakeResult struct {
	text    string
	sources []common.GroundingSource
	err     error
}

func (f *fakeProvider) next(prompt string, opts []GenerateOption) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.options = append(f.options, o)
	if len(f.results) == 0 {
		return Completion{}, errors.New("no scripted result")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return Completion{Text: r.text, GroundingSources: r.sources}, r.err
}

func (f *fakeProvider) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (Completion, error) {
	return f.next(prompt, opts)
}

func (f *fakeProvider) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) (Completion, error) {
	return f.next(prompt, opts)
}

func (f *fakeProvider) LoadModel(ctx context.Context, opts ...GenerateOption) error { return nil }
func (f *fakeProvider) ResetMetrics()                                               {}
func (f *fakeProvider) GetMetrics() ModelMetrics                                    { return ModelMetrics{} }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fastRetry keeps the real retry semantics with negligible delays.
var fastRetry = util.RetryOptions{Retries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestGenerateTextMode(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{
		text:    "Dune is a novel.",
		sources: []common.GroundingSource{{URI: "https://example.org", Title: "Example"}},
	}}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry})

	resp, err := c.Generate(context.Background(), Request{Prompt: "What is Dune?", Model: "m1", WebSearch: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Dune is a novel." {
		t.Fatalf("Text = %q", resp.Text)
	}
	if len(resp.GroundingSources) != 1 || resp.GroundingSources[0].URI != "https://example.org" {
		t.Fatalf("GroundingSources = %+v", resp.GroundingSources)
	}
	if p.options[0].Model != "m1" || !p.options[0].WebSearch {
		t.Fatalf("options = %+v, want model m1 with web search", p.options[0])
	}
}

func TestGenerateSchemaModeStripsFencesAndDecodes(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{
		text: "```json\n{\"summary\": \"A desert planet.\", \"analysis\": \"Ecology.\"}\n```",
	}}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry})

	var out SummaryAnswer
	if _, err := c.Generate(context.Background(), Request{
		Prompt: "Summarize Dune", Mode: ModeSchema, SchemaName: "summary", Out: &out,
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Summary != "A desert planet." || out.Analysis != "Ecology." {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestGenerateParseErrorKeepsRawAndIsNotRetried(t *testing.T) {
	raw := "I am sorry, I cannot answer that."
	p := &fakeProvider{results: []fakeResult{{text: raw}}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry})

	var out GraphAnswer
	resp, err := c.Generate(context.Background(), Request{Prompt: "Search Dune", Mode: ModeSchema, Out: &out})

	var pe *common.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *common.ParseError", err)
	}
	if pe.Raw != raw || resp.Text != raw {
		t.Fatalf("raw text lost: err.Raw=%q resp.Text=%q", pe.Raw, resp.Text)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.callCount())
	}

	// a failed decode must not be cached
	p.results = []fakeResult{{text: `{"entities":[],"edges":[],"commentary":"ok"}`}}
	if _, err := c.Generate(context.Background(), Request{Prompt: "Search Dune", Mode: ModeSchema, Out: &out}); err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if p.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.callCount())
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{
		{err: &common.UpstreamError{Service: "test", Status: 429, Err: errors.New("slow down")}},
		{err: &common.UpstreamError{Service: "test", Status: 503, Err: errors.New("unavailable")}},
		{text: "fine"},
	}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry})

	resp, err := c.Generate(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "fine" || p.callCount() != 3 {
		t.Fatalf("Text = %q after %d calls, want fine after 3", resp.Text, p.callCount())
	}
}

func TestGenerateFatalFailureIsNotRetried(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{
		{err: &common.UpstreamError{Service: "test", Status: 400, Err: errors.New("bad request")}},
	}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry})

	if _, err := c.Generate(context.Background(), Request{Prompt: "hello"}); err == nil {
		t.Fatal("expected error")
	}
	if p.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.callCount())
	}
}

func TestGenerateCacheHitSkipsProviderAndLimiter(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{text: "cached answer"}}}
	limiter := ratelimit.NewSlidingWindow(1, time.Hour)
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry, Limiter: limiter})

	for i := range 3 {
		resp, err := c.Generate(context.Background(), Request{Prompt: "same prompt"})
		if err != nil {
			t.Fatalf("call %d: Generate() error = %v", i, err)
		}
		if resp.Text != "cached answer" {
			t.Fatalf("call %d: Text = %q", i, resp.Text)
		}
	}
	if p.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.callCount())
	}

	// a different prompt needs the limiter, which is exhausted
	_, err := c.Generate(context.Background(), Request{Prompt: "other prompt"})
	var rl *common.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want *common.RateLimitError", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > time.Hour {
		t.Fatalf("RetryAfter = %v", rl.RetryAfter)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider called despite rate limit")
	}
}

func TestGenerateValidation(t *testing.T) {
	c := NewClient(ClientParams{Provider: &fakeProvider{}, Retry: fastRetry})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty prompt", Request{Prompt: "  "}},
		{"schema without target", Request{Prompt: "x", Mode: ModeSchema}},
		{"schema with non pointer", Request{Prompt: "x", Mode: ModeSchema, Out: SummaryAnswer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Generate(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCacheKeyDistinguishesModes(t *testing.T) {
	a := cacheKey(Request{Prompt: "p", Mode: ModeText})
	b := cacheKey(Request{Prompt: "p", Mode: ModeSchema})
	c := cacheKey(Request{Prompt: "p", Mode: ModeText, Model: "other"})
	if a == b || a == c || b == c {
		t.Fatalf("cache keys collide: %s %s %s", a, b, c)
	}
}

func TestGenerateForwardsClientOptions(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{text: "one"}, {text: "two"}}}
	c := NewClient(ClientParams{Provider: p, Retry: fastRetry, Temperature: 0.7, Thinking: "low"})

	_, err := c.Generate(context.Background(), Request{Prompt: "Who wrote Dune?", System: []string{CartographerRole}})
	if err != nil {
		t.Fatal(err)
	}
	o := p.options[0]
	if len(o.SystemPrompts) != 1 || o.SystemPrompts[0] != CartographerRole {
		t.Fatalf("system prompts = %v", o.SystemPrompts)
	}
	if o.Temperature != 0.7 || o.Thinking != "low" {
		t.Fatalf("temperature = %v, thinking = %q", o.Temperature, o.Thinking)
	}

	// a different system prompt is a different request
	_, err = c.Generate(context.Background(), Request{Prompt: "Who wrote Dune?", System: []string{AdvisorRole}})
	if err != nil {
		t.Fatal(err)
	}
	if p.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", p.callCount())
	}

	// without client settings the provider keeps its own defaults
	plain := &fakeProvider{results: []fakeResult{{text: "three"}}}
	c = NewClient(ClientParams{Provider: plain, Retry: fastRetry})
	if _, err := c.Generate(context.Background(), Request{Prompt: "Who wrote Dune?"}); err != nil {
		t.Fatal(err)
	}
	if o := plain.options[0]; o.Temperature != 0 || o.Thinking != "" || o.SystemPrompts != nil {
		t.Fatalf("unexpected options %+v", o)
	}
}
