package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mid "github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/biblio"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/grid"
	"github.com/folio-graph/folio/pkg/pathfind"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchAnswer = `{
  "entities": [
    {"label": "Dune", "type": "book", "description": "", "publicationYear": 1965, "series": ""},
    {"label": "Frank Herbert", "type": "author", "description": "", "publicationYear": 0, "series": ""}
  ],
  "edges": [{"source": "Dune", "target": "Frank Herbert"}],
  "commentary": "Found Dune."
}`

// stubGenerator answers every schema with a fixed body or error.
type stubGenerator struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
}

func (g *stubGenerator) Generate(ctx context.Context, req ai.Request) (ai.Response, error) {
	g.mu.Lock()
	body, err := g.answers[req.SchemaName], g.errs[req.SchemaName]
	g.mu.Unlock()
	if err != nil {
		return ai.Response{}, err
	}
	if body == "" {
		return ai.Response{}, &common.UpstreamError{Service: "generative", Status: 400, Err: assert.AnError}
	}
	return ai.Response{Text: body}, json.Unmarshal([]byte(body), req.Out)
}

type noBooks struct{}

func (noBooks) SearchBook(ctx context.Context, query string) (*biblio.BookMatch, error) {
	return nil, nil
}

func (noBooks) LookupBook(ctx context.Context, title, author string) (*biblio.BookMatch, error) {
	return nil, nil
}

func newTestServer(t *testing.T, gen *stubGenerator, apiKey string) (*echo.Echo, *mid.App) {
	t.Helper()
	store := graph.NewStore()
	status := explorer.NewStatusBoard(0)
	app := &mid.App{
		Explorer: explorer.New(explorer.Params{Store: store, Generator: gen, Status: status}),
		Grid:     grid.NewEngine(grid.Params{Store: store, Generator: gen, Books: noBooks{}, Notify: status.Show}),
		Finder:   pathfind.NewFinder(pathfind.Params{Store: store, Generator: gen, Notify: status.Show}),
		APIKey:   apiKey,
	}
	return New(app), app
}

func do(e *echo.Echo, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	e, _ := newTestServer(t, &stubGenerator{}, "")

	rec := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "folio_http_requests_total")
}

func TestSearchAndReadGraph(t *testing.T) {
	gen := &stubGenerator{answers: map[string]string{"graph_search": searchAnswer}}
	e, _ := newTestServer(t, gen, "")

	rec := do(e, http.MethodPost, "/api/graph/search", `{"query": "Dune"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Message   string   `json:"message"`
		PrimaryID string   `json:"primaryId"`
		NewIDs    []string `json:"newIds"`
	}](t, rec)
	assert.Len(t, res.NewIDs, 2)
	assert.Equal(t, "Found Dune.", res.Message)

	rec = do(e, http.MethodGet, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[struct {
		Nodes []common.Node `json:"nodes"`
		Edges []common.Edge `json:"edges"`
		State struct {
			FocusID string `json:"focusId"`
		} `json:"state"`
	}](t, rec)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
	assert.Equal(t, res.PrimaryID, snap.State.FocusID)

	rec = do(e, http.MethodGet, "/api/graph/nodes/"+res.PrimaryID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	node := decode[struct {
		Neighbours []common.Node `json:"neighbours"`
	}](t, rec)
	assert.Len(t, node.Neighbours, 1)
}

func TestErrorMapping(t *testing.T) {
	gen := &stubGenerator{errs: map[string]error{
		"graph_search": &common.RateLimitError{RetryAfter: 1500 * time.Millisecond},
	}}
	e, _ := newTestServer(t, gen, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing query", http.MethodPost, "/api/graph/search", `{}`, http.StatusBadRequest},
		{"blank query", http.MethodPost, "/api/graph/search", `{"query": "  "}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/graph/search", `{"query":`, http.StatusBadRequest},
		{"rate limited", http.MethodPost, "/api/graph/search", `{"query": "Dune"}`, http.StatusTooManyRequests},
		{"unknown node", http.MethodPost, "/api/graph/nodes/nope/expand", "", http.StatusNotFound},
		{"unknown summary node", http.MethodPost, "/api/graph/nodes/nope/summary", "", http.StatusNotFound},
		{"slot out of range", http.MethodPost, "/api/grid/slots/100/lock", "", http.StatusBadRequest},
		{"slot not a number", http.MethodPost, "/api/grid/slots/abc/dismiss", "", http.StatusBadRequest},
		{"bad import", http.MethodPost, "/api/graph/import", `[1, 2]`, http.StatusBadRequest},
		{"archive not configured", http.MethodGet, "/api/snapshots", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(e, http.MethodPost, "/api/graph/search", `{"query": "Dune"}`)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	e, _ := newTestServer(t, &stubGenerator{}, "")

	rec := do(e, http.MethodPost, "/api/graph/search", `{"query": "Dune"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "generative service failed")
}

func TestExportResetImport(t *testing.T) {
	gen := &stubGenerator{answers: map[string]string{"graph_search": searchAnswer}}
	e, app := newTestServer(t, gen, "")

	require.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/graph/search", `{"query": "Dune"}`).Code)

	rec := do(e, http.MethodGet, "/api/graph/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
	exported := rec.Body.String()

	rec = do(e, http.MethodDelete, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	nodes, _ := app.Explorer.Store().Len()
	assert.Zero(t, nodes)

	rec = do(e, http.MethodPost, "/api/graph/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	nodes, edges := app.Explorer.Store().Len()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
}

func TestPathAndGridRoutes(t *testing.T) {
	e, _ := newTestServer(t, &stubGenerator{}, "")

	rec := do(e, http.MethodPost, "/api/path/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"selectingStart"`)

	rec = do(e, http.MethodPost, "/api/path/select", `{"nodeId": "missing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":false`)

	rec = do(e, http.MethodPost, "/api/grid/seed", `{"query": "nothing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[struct {
		Grid grid.State `json:"grid"`
	}](t, rec)
	assert.False(t, state.Grid.IsSeeded)
	assert.Len(t, state.Grid.Slots, grid.Size)

	rec = do(e, http.MethodGet, "/api/grid", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	e, _ := newTestServer(t, &stubGenerator{}, "secret")

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/graph", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/graph", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/graph", "", "Authorization", "Bearer secret").Code)
}
