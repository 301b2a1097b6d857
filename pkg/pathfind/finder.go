// Package pathfind implements the two-click connection path query: pick a
// start node, pick an end node, and ask the generative service for the
// chain of works, creators and concepts linking them.
package pathfind

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/ai"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/logger"
)

type State string

const (
	StateInactive       State = "inactive"
	StateSelectingStart State = "selectingStart"
	StateSelectingEnd   State = "selectingEnd"
)

// errInvalidPath marks answers whose path cannot be mapped onto the graph.
var errInvalidPath = errors.New("invalid path")

// Enricher receives ids of nodes created by a path query.
type Enricher interface {
	Enrich(ids ...string)
}

type Params struct {
	Store     *graph.Store
	Generator ai.Generator
	Enricher  Enricher
	// Notify receives status captions. Optional.
	Notify func(caption string)
	// Context bounds background queries. Defaults to context.Background.
	Context context.Context
}

// Snapshot is the externally visible state of the finder.
type Snapshot struct {
	State      State    `json:"state"`
	StartID    string   `json:"startId,omitempty"`
	EndID      string   `json:"endId,omitempty"`
	Path       []string `json:"path"`
	Busy       bool     `json:"busy"`
	Status     string   `json:"status,omitempty"`
	Commentary string   `json:"commentary,omitempty"`
}

type Finder struct {
	store    *graph.Store
	gen      ai.Generator
	enricher Enricher
	notify   func(string)
	ctx      context.Context

	mu         sync.Mutex
	state      State
	start      string
	end        string
	path       []string
	busy       bool
	status     string
	commentary string

	generation util.Generation
	wg         sync.WaitGroup
}

func NewFinder(params Params) *Finder {
	ctx := params.Context
	if ctx == nil {
		ctx = context.Background()
	}
	notify := params.Notify
	if notify == nil {
		notify = func(string) {}
	}
	return &Finder{
		store:    params.Store,
		gen:      params.Generator,
		enricher: params.Enricher,
		notify:   notify,
		ctx:      ctx,
		state:    StateInactive,
	}
}

// Toggle switches path mode on or off. Turning it off while a query is in
// flight discards that query's result.
func (f *Finder) Toggle() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.generation.Next()
	f.start, f.end = "", ""
	f.path = nil
	f.status, f.commentary = "", ""

	if f.state == StateInactive && !f.busy {
		f.state = StateSelectingStart
	} else {
		f.state = StateInactive
		f.busy = false
	}
	logger.Debug("[Path] Toggled", "state", f.state)
	return f.snapshotLocked()
}

// Click selects id as start or end node depending on the current state. It
// reports whether the click was accepted. Clicks while a query runs, on
// unknown nodes or on the start node again are ignored.
func (f *Finder) Click(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return false
	}
	node, ok := f.store.Node(id)
	if !ok {
		return false
	}

	switch f.state {
	case StateSelectingStart:
		f.start = id
		f.state = StateSelectingEnd
		return true
	case StateSelectingEnd:
		if id == f.start {
			return false
		}
		start, ok := f.store.Node(f.start)
		if !ok {
			// the start node disappeared, e.g. after a reset
			f.start = id
			return true
		}
		f.end = id
		f.busy = true
		f.path = nil
		f.status = "Searching for a connection..."
		gen := f.generation.Next()

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.query(gen, start, node)
		}()
		return true
	default:
		return false
	}
}

// State returns a copy of the current state.
func (f *Finder) State() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Wait blocks until every launched query settled.
func (f *Finder) Wait() {
	f.wg.Wait()
}

func (f *Finder) snapshotLocked() Snapshot {
	return Snapshot{
		State:      f.state,
		StartID:    f.start,
		EndID:      f.end,
		Path:       append([]string{}, f.path...),
		Busy:       f.busy,
		Status:     f.status,
		Commentary: f.commentary,
	}
}

func (f *Finder) query(gen uint64, start, end common.Node) {
	var answer ai.PathAnswer
	_, err := f.gen.Generate(f.ctx, ai.Request{
		Prompt:            ai.BuildPathPrompt(start, end),
		Mode:              ai.ModeSchema,
		SchemaName:        "connection_path",
		SchemaDescription: "Chain of entities connecting two nodes of a literary knowledge graph.",
		Out:               &answer,
		System:            []string{ai.CartographerRole},
	})

	f.mu.Lock()
	if !f.generation.IsCurrent(gen) {
		f.mu.Unlock()
		logger.Debug("[Path] Discarding stale result", "start", start.Label, "end", end.Label)
		return
	}

	var (
		path   []string
		result graph.BatchResult
	)
	if err == nil {
		result = f.store.AddBatch(graph.Batch{
			Entities:       ai.Entities(answer.Entities),
			Edges:          ai.EdgeRefs(answer.Edges),
			SourcePosition: ptr(common.Midpoint(start.Position, end.Position)),
		})
		path, err = f.resolvePath(answer.Path, start.ID, end.ID)
	}

	var caption string
	if err != nil {
		caption = failureCaption(err)
		f.path = nil
		logger.Warn("[Path] Query failed", "start", start.Label, "end", end.Label, "err", err)
	} else {
		caption = answer.Commentary
		if caption == "" {
			caption = fmt.Sprintf("Found a connection in %d steps", len(path)-1)
		}
		f.path = path
		f.commentary = answer.Commentary
		logger.Info("[Path] Connection found", "start", start.Label, "end", end.Label, "steps", len(path)-1)
	}
	f.status = caption
	f.busy = false
	f.state = StateInactive
	f.mu.Unlock()

	if f.enricher != nil {
		if ids := result.EnrichIDs(); len(ids) > 0 {
			f.enricher.Enrich(ids...)
		}
	}
	f.notify(caption)
}

// resolvePath maps the answer's labels onto node ids. The chain must run
// from start to end; a missing link between two known nodes is added.
func (f *Finder) resolvePath(labels []string, startID, endID string) ([]string, error) {
	ids := make([]string, 0, len(labels))
	for _, label := range labels {
		n, ok := f.store.FindByLabel(label)
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity %q", errInvalidPath, label)
		}
		if len(ids) > 0 && ids[len(ids)-1] == n.ID {
			continue
		}
		ids = append(ids, n.ID)
	}

	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: fewer than two steps", errInvalidPath)
	}
	if ids[0] != startID || ids[len(ids)-1] != endID {
		return nil, fmt.Errorf("%w: does not connect the selected nodes", errInvalidPath)
	}

	for i := 0; i+1 < len(ids); i++ {
		if f.store.Connected(ids[i], ids[i+1]) {
			continue
		}
		if _, err := f.store.Connect(ids[i], ids[i+1]); err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidPath, err)
		}
		logger.Debug("[Path] Repaired missing link", "source", ids[i], "target", ids[i+1])
	}
	return ids, nil
}

func failureCaption(err error) string {
	if errors.Is(err, errInvalidPath) {
		return "No usable connection was found, please try again"
	}
	return common.Caption(err)
}

func ptr[T any](v T) *T {
	return &v
}
