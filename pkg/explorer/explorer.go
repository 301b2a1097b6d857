// Package explorer implements the foreground operations of the graph:
// searching, expanding nodes, writing summaries and loading or resetting
// the whole graph. Every operation reports its outcome as a status caption.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"
)

// ErrSuperseded is returned when a newer query was dispatched before this
// one finished. Its result has been discarded.
var ErrSuperseded = errors.New("superseded by a newer query")

type Enricher interface {
	Enrich(ids ...string)
}

type Params struct {
	Store     *graph.Store
	Generator ai.Generator
	Enricher  Enricher
	// Status defaults to a board with DefaultCaptionTTL.
	Status *StatusBoard
	// WebSearch lets search requests use a grounded model.
	WebSearch bool
}

// State is what the user interface needs besides the graph itself.
type State struct {
	IsLoading  bool   `json:"isLoading"`
	Status     string `json:"status,omitempty"`
	FocusID    string `json:"focusId,omitempty"`
	Commentary string `json:"commentary,omitempty"`
}

type Explorer struct {
	store     *graph.Store
	gen       ai.Generator
	enricher  Enricher
	status    *StatusBoard
	webSearch bool

	queries util.Generation

	mu         sync.Mutex
	loading    int
	focus      string
	commentary string

	now func() time.Time
}

func New(params Params) *Explorer {
	status := params.Status
	if status == nil {
		status = NewStatusBoard(DefaultCaptionTTL)
	}
	return &Explorer{
		store:     params.Store,
		gen:       params.Generator,
		enricher:  params.Enricher,
		status:    status,
		webSearch: params.WebSearch,
		now:       time.Now,
	}
}

// Store returns the graph the explorer works on.
func (e *Explorer) Store() *graph.Store {
	return e.store
}

// Status returns the caption board shared with the other components.
func (e *Explorer) Status() *StatusBoard {
	return e.status
}

// State returns a copy of the foreground state.
func (e *Explorer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		IsLoading:  e.loading > 0,
		Status:     e.status.Caption(),
		FocusID:    e.focus,
		Commentary: e.commentary,
	}
}

// Search asks for the subject of query and its surroundings and merges the
// answer into the graph. The first entity of the answer becomes the focus.
func (e *Explorer) Search(ctx context.Context, query string) (graph.BatchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return graph.BatchResult{}, common.NewValidationError("query", "must not be empty")
	}

	gen, ts := e.dispatch()
	defer e.settle()
	e.status.Show(fmt.Sprintf("Searching for %q...", query))
	logger.Info("[Explorer] Search", "query", query)

	var answer ai.GraphAnswer
	resp, err := e.gen.Generate(ctx, ai.Request{
		Prompt:            ai.BuildSearchPrompt(query),
		Mode:              ai.ModeSchema,
		SchemaName:        "graph_search",
		SchemaDescription: "Entities and edges of a literary knowledge graph around a search subject.",
		Out:               &answer,
		System:            []string{ai.CartographerRole},
		WebSearch:         e.webSearch,
	})
	if !e.queries.IsCurrent(gen) {
		logger.Debug("[Explorer] Discarding stale search", "query", query)
		return graph.BatchResult{}, ErrSuperseded
	}
	if err != nil {
		return graph.BatchResult{}, e.fail("search", err)
	}

	entities := ai.Entities(answer.Entities)
	if len(entities) == 0 {
		e.status.Show(fmt.Sprintf("Nothing found for %q", query))
		return graph.BatchResult{}, nil
	}
	if len(resp.GroundingSources) > 0 {
		entities[0].GroundingSources = resp.GroundingSources
	}

	res := e.store.AddBatch(graph.Batch{
		Entities:  entities,
		Edges:     ai.EdgeRefs(answer.Edges),
		Timestamp: ts,
	})
	e.finish(res, answer.Commentary)
	return res, nil
}

// Expand asks for entities related to an existing node. New nodes animate
// in from the expanded node.
func (e *Explorer) Expand(ctx context.Context, nodeID string) (graph.BatchResult, error) {
	node, ok := e.store.Node(nodeID)
	if !ok {
		return graph.BatchResult{}, fmt.Errorf("expand %s: %w", nodeID, common.ErrNotFound)
	}

	gen, ts := e.dispatch()
	defer e.settle()
	e.status.Show(fmt.Sprintf("Expanding %s...", node.Label))
	logger.Info("[Explorer] Expand", "id", node.ID, "label", node.Label)

	neighbours := e.store.Neighbours(node.ID)
	labels := make([]string, 0, len(neighbours))
	for _, n := range neighbours {
		labels = append(labels, n.Label)
	}

	var answer ai.GraphAnswer
	_, err := e.gen.Generate(ctx, ai.Request{
		Prompt:            ai.BuildExpandPrompt(node, labels),
		Mode:              ai.ModeSchema,
		SchemaName:        "graph_expand",
		SchemaDescription: "New entities and edges around an existing node of a literary knowledge graph.",
		Out:               &answer,
		System:            []string{ai.CartographerRole},
	})
	if !e.queries.IsCurrent(gen) {
		logger.Debug("[Explorer] Discarding stale expansion", "label", node.Label)
		return graph.BatchResult{}, ErrSuperseded
	}
	if err != nil {
		return graph.BatchResult{}, e.fail("expand", err)
	}

	// the expanded node stays the primary subject whatever the answer says
	entities := append([]common.Entity{{Label: node.Label, Type: string(node.Type)}}, ai.Entities(answer.Entities)...)
	pos := node.Position
	res := e.store.AddBatch(graph.Batch{
		Entities:       entities,
		Edges:          ai.EdgeRefs(answer.Edges),
		SourcePosition: &pos,
		Timestamp:      ts,
	})
	e.finish(res, answer.Commentary)
	return res, nil
}

// Summarize writes an AI summary for a node. Nodes whose summary is
// pending or ready are left alone; failed summaries may be retried.
func (e *Explorer) Summarize(ctx context.Context, nodeID string) (common.Summary, error) {
	started := false
	node, err := e.store.UpdateNode(nodeID, func(n *common.Node) bool {
		switch n.Summary.State {
		case common.SummaryPending, common.SummaryReady:
			return false
		}
		n.Summary = common.PendingSummary()
		started = true
		return true
	})
	if err != nil {
		return common.Summary{}, fmt.Errorf("summarize %s: %w", nodeID, err)
	}
	if !started {
		return node.Summary, nil
	}

	logger.Info("[Explorer] Summarize", "id", node.ID, "label", node.Label)
	var answer ai.SummaryAnswer
	_, genErr := e.gen.Generate(ctx, ai.Request{
		Prompt:            ai.BuildSummaryPrompt(node),
		Mode:              ai.ModeSchema,
		SchemaName:        "node_summary",
		SchemaDescription: "Summary and short analysis of a book, author or concept.",
		Out:               &answer,
		System:            []string{ai.CartographerRole},
	})

	summary := common.ReadySummary(strings.TrimSpace(answer.Summary), strings.TrimSpace(answer.Analysis))
	if genErr == nil && summary.Text == "" {
		genErr = errors.New("empty summary")
	}
	if genErr != nil {
		summary = common.FailedSummary(errors.New(common.Caption(genErr)))
		logger.Warn("[Explorer] Summary failed", "id", node.ID, "err", genErr)
	}

	updated, err := e.store.UpdateNode(nodeID, func(n *common.Node) bool {
		// a reset or import may have replaced the node meanwhile
		if n.Summary.State != common.SummaryPending {
			return false
		}
		n.Summary = summary
		return true
	})
	if err != nil {
		return summary, fmt.Errorf("summarize %s: %w", nodeID, err)
	}
	if genErr != nil {
		e.status.Show(common.Caption(genErr))
		return updated.Summary, genErr
	}
	return updated.Summary, nil
}

// LoadBootstrap merges the startup document. Its nodes do not animate in
// and are not enriched.
func (e *Explorer) LoadBootstrap(doc graph.Document) (graph.BatchResult, error) {
	res, err := e.store.Import(doc, graph.ImportOptions{
		Timestamp:          graph.BootstrapTimestamp,
		SuppressEnrichment: true,
	})
	if err != nil {
		return res, err
	}

	e.mu.Lock()
	if e.focus == "" {
		e.focus = res.PrimaryID
	}
	e.commentary = doc.Commentary
	e.mu.Unlock()

	if doc.Commentary != "" {
		e.status.Show(doc.Commentary)
	}
	logger.Info("[Explorer] Bootstrap loaded", "nodes", len(res.NewIDs), "edges", len(res.NewEdgeIDs))
	return res, nil
}

// Import merges a previously exported document and enriches what is new.
func (e *Explorer) Import(doc graph.Document) (graph.BatchResult, error) {
	res, err := e.store.Import(doc, graph.ImportOptions{})
	if err != nil {
		return res, err
	}
	e.enrich(res)
	e.status.Show(fmt.Sprintf("Imported %d new nodes", len(res.NewIDs)))
	return res, nil
}

func (e *Explorer) Export() graph.Document {
	doc := e.store.Export()
	e.mu.Lock()
	doc.Commentary = e.commentary
	e.mu.Unlock()
	return doc
}

// Reset empties the graph. Queries in flight are discarded when they
// return.
func (e *Explorer) Reset() {
	e.queries.Next()
	e.store.Reset()

	e.mu.Lock()
	e.focus = ""
	e.commentary = ""
	e.mu.Unlock()
	e.status.Clear()
}

// dispatch starts a foreground query and returns its generation and
// logical timestamp.
func (e *Explorer) dispatch() (uint64, int64) {
	gen := e.queries.Next()
	ts := e.now().UnixMilli()
	e.store.SetQueryTime(ts)

	e.mu.Lock()
	e.loading++
	e.mu.Unlock()
	return gen, ts
}

func (e *Explorer) settle() {
	e.mu.Lock()
	e.loading--
	e.mu.Unlock()
}

func (e *Explorer) finish(res graph.BatchResult, commentary string) {
	e.mu.Lock()
	if res.PrimaryID != "" {
		e.focus = res.PrimaryID
	}
	e.commentary = commentary
	e.mu.Unlock()

	e.enrich(res)
	if commentary == "" {
		commentary = fmt.Sprintf("Added %d new nodes", len(res.NewIDs))
	}
	e.status.Show(commentary)
}

func (e *Explorer) fail(op string, err error) error {
	logger.Warn("[Explorer] Query failed", "op", op, "err", err)
	e.status.Show(common.Caption(err))
	return err
}

func (e *Explorer) enrich(res graph.BatchResult) {
	if e.enricher == nil {
		return
	}
	if ids := res.EnrichIDs(); len(ids) > 0 {
		e.enricher.Enrich(ids...)
	}
}
