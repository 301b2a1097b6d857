package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GraphOllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		ChatModel: "test-model",
		BaseURL:   srv.URL,
		ApiKey:    "secret",
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	return c
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	var (
		gotBody map[string]any
		gotAuth string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"test-model","created_at":"2024-01-01T00:00:00Z",`+
			`"message":{"role":"assistant","content":"{\"summary\":\"s\",\"analysis\":\"a\"}"},`+
			`"done":true,"prompt_eval_count":3,"eval_count":4}`+"\n")
	})

	var out ai.SummaryAnswer
	got, err := client.GenerateCompletionWithFormat(context.Background(), "summary", "", "Summarize Dune", &out)
	if err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if got.Text != `{"summary":"s","analysis":"a"}` {
		t.Fatalf("Text = %q", got.Text)
	}
	if out.Summary != "" {
		t.Fatalf("provider must not decode into out, got %+v", out)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if _, ok := gotBody["format"].(map[string]any); !ok {
		t.Errorf("format = %v, want schema object", gotBody["format"])
	}
	if m := client.GetMetrics(); m.TotalTokens != 7 || m.Requests != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestGenerateCompletionClassifiesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"server busy"}`)
	})

	_, err := client.GenerateCompletion(context.Background(), "hi")
	var ue *common.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *common.UpstreamError", err)
	}
	if ue.Status != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", ue.Status)
	}
}

func TestContextSizeShortPrompt(t *testing.T) {
	if got := contextSize(nil); got != defaultContext {
		t.Fatalf("contextSize(nil) = %d, want %d", got, defaultContext)
	}
}
