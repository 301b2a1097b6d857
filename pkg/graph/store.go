// Package graph holds the canonical in-memory knowledge graph. Every batch
// of entities, whatever its origin, goes through Store.AddBatch, which
// deduplicates, lays out and sizes nodes.
package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// BootstrapTimestamp marks the batch loaded at startup. Nodes it creates
// have no animate-in origin.
const BootstrapTimestamp int64 = -1

// Batch is one unit of incoming entities and label-addressed edges.
type Batch struct {
	// Entities; the first one with a label is the primary subject.
	Entities []common.Entity
	Edges    []common.EdgeRef
	// SourcePosition is where new nodes animate in from. Nil means origin.
	SourcePosition *common.Vec3
	// Timestamp is the logical time of the query that produced the batch.
	// Zero uses the store's query time; BootstrapTimestamp marks the
	// startup batch.
	Timestamp int64
	// SuppressEnrichment tells callers not to schedule enrichment for the
	// new nodes, e.g. for bootstrap data that is already enriched.
	SuppressEnrichment bool
}

// BatchResult reports what AddBatch did.
type BatchResult struct {
	PrimaryID  string
	NewIDs     []string
	NewEdgeIDs []string
	// Suppressed mirrors Batch.SuppressEnrichment.
	Suppressed bool
}

// EnrichIDs returns the ids that should be handed to enrichment.
func (r BatchResult) EnrichIDs() []string {
	if r.Suppressed {
		return nil
	}
	return r.NewIDs
}

// Snapshot is a deep copy of the graph in insertion order.
type Snapshot struct {
	Nodes []common.Node `json:"nodes"`
	Edges []common.Edge `json:"edges"`
}

// ChangeKind describes what triggered a change notification.
type ChangeKind string

const (
	ChangeBatch  ChangeKind = "batch"
	ChangeUpdate ChangeKind = "update"
	ChangeEdge   ChangeKind = "edge"
	ChangeReset  ChangeKind = "reset"
)

// Change is passed to listeners after a mutation completed.
type Change struct {
	Kind       ChangeKind
	NodeIDs    []string
	NewEdgeIDs []string
	NodeCount  int
	EdgeCount  int
}

// Listener is notified after the store lock has been released.
type Listener func(Change)

// Store is the single owner of the graph. All mutations are serialized by
// one mutex; readers get deep copies.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*common.Node
	order     []string
	byKey     map[string]string
	byLabel   map[string][]string
	edges     []common.Edge
	edgePairs map[string]struct{}
	degree    map[string]int
	queryTime int64
	idSeq     uint64

	listenersMu sync.RWMutex
	listeners   []Listener

	now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{now: time.Now}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.nodes = make(map[string]*common.Node)
	s.order = nil
	s.byKey = make(map[string]string)
	s.byLabel = make(map[string][]string)
	s.edges = nil
	s.edgePairs = make(map[string]struct{})
	s.degree = make(map[string]int)
	s.queryTime = 0
}

// OnChange registers a listener for every completed mutation.
func (s *Store) OnChange(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

func (s *Store) notify(c Change) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(c)
	}
}

// SetQueryTime records the logical time of the latest foreground query.
// Batches with a zero timestamp use it.
func (s *Store) SetQueryTime(ts int64) {
	s.mu.Lock()
	s.queryTime = ts
	s.mu.Unlock()
}

// AddBatch merges entities and edges into the graph.
//
// Entities are matched by (type, label). New ones get an id, a position
// and a color; known ones only have their missing fields filled. Edges are
// resolved by label against the whole graph and dropped when an endpoint
// is unknown, when both endpoints are the same node or when the pair is
// already connected. Sizes of all nodes are recomputed afterwards.
//
// A batch without any labelled entity is a no-op.
func (s *Store) AddBatch(b Batch) BatchResult {
	entities := dedupeEntities(b.Entities)
	result := BatchResult{Suppressed: b.SuppressEnrichment}
	if len(entities) == 0 {
		return result
	}

	s.mu.Lock()

	ts := b.Timestamp
	bootstrap := ts == BootstrapTimestamp
	switch {
	case bootstrap:
		ts = 0
	case ts == 0 && s.queryTime != 0:
		ts = s.queryTime
	case ts == 0:
		ts = s.now().UnixMilli()
	}

	origin := common.Vec3{}
	if b.SourcePosition != nil {
		origin = *b.SourcePosition
	}

	// labels of this batch win over older nodes with the same label
	batchLabels := make(map[string]string, len(entities))
	estimatedTotal := len(s.order) + len(entities)

	for i, e := range entities {
		t := common.NormalizeNodeType(e.Type)
		key := common.IdentityKey(t, e.Label)

		id, exists := s.byKey[key]
		if exists {
			n := s.nodes[id]
			fillMissing(n, e)
			if !bootstrap {
				n.LastUpdated = ts
			}
		} else {
			id = s.newID()
			n := &common.Node{
				ID:          id,
				Label:       e.Label,
				Type:        t,
				Summary:     common.Summary{State: common.SummaryUnrequested},
				Color:       ColorFor(t),
				Size:        SizeForDegree(0),
				LastUpdated: ts,
			}
			fillMissing(n, e)
			if e.Position != nil {
				n.Position = *e.Position
			} else {
				n.Position = Position(len(s.order), estimatedTotal)
			}
			if !bootstrap {
				p := origin
				n.InitialPosition = &p
			}
			s.insertLocked(n, key)
			result.NewIDs = append(result.NewIDs, id)
		}

		if i == 0 {
			result.PrimaryID = id
		}
		label := common.NormalizeLabel(e.Label)
		if _, ok := batchLabels[label]; !ok {
			batchLabels[label] = id
		}
	}

	for _, ref := range b.Edges {
		src := s.resolveLocked(ref.Source, batchLabels)
		dst := s.resolveLocked(ref.Target, batchLabels)
		if src == "" || dst == "" || src == dst {
			continue
		}
		if edgeID, ok := s.connectLocked(src, dst); ok {
			result.NewEdgeIDs = append(result.NewEdgeIDs, edgeID)
		}
	}

	s.resizeLocked()

	change := Change{
		Kind:       ChangeBatch,
		NodeIDs:    append([]string(nil), result.NewIDs...),
		NewEdgeIDs: append([]string(nil), result.NewEdgeIDs...),
		NodeCount:  len(s.order),
		EdgeCount:  len(s.edges),
	}
	s.mu.Unlock()

	metrics.GraphGrowth(len(result.NewIDs), len(result.NewEdgeIDs), change.NodeCount)
	logger.Debug("[Graph] Batch merged",
		"primary", result.PrimaryID,
		"new_nodes", len(result.NewIDs),
		"new_edges", len(result.NewEdgeIDs),
		"nodes", change.NodeCount,
	)
	s.notify(change)

	return result
}

// Connect adds an edge between two existing nodes. It reports false when
// the pair is already connected, and an error when either node is unknown
// or both ids are the same.
func (s *Store) Connect(sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return false, common.NewValidationError("edge", "self-loops are not allowed")
	}

	s.mu.Lock()
	if s.nodes[sourceID] == nil || s.nodes[targetID] == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("connect %s-%s: %w", sourceID, targetID, common.ErrNotFound)
	}
	edgeID, added := s.connectLocked(sourceID, targetID)
	if !added {
		s.mu.Unlock()
		return false, nil
	}
	s.resizeLocked()
	change := Change{
		Kind:       ChangeEdge,
		NewEdgeIDs: []string{edgeID},
		NodeCount:  len(s.order),
		EdgeCount:  len(s.edges),
	}
	s.mu.Unlock()

	metrics.GraphGrowth(0, 1, change.NodeCount)
	s.notify(change)
	return true, nil
}

// UpdateNode runs fn on the node with the given id under the store lock.
// fn reports whether it changed anything; identity, position and derived
// fields are restored afterwards so fn cannot corrupt the graph. The
// updated node is returned.
func (s *Store) UpdateNode(id string, fn func(n *common.Node) bool) (common.Node, error) {
	s.mu.Lock()
	n := s.nodes[id]
	if n == nil {
		s.mu.Unlock()
		return common.Node{}, fmt.Errorf("node %s: %w", id, common.ErrNotFound)
	}

	keep := *n
	changed := fn(n)
	n.ID, n.Label, n.Type = keep.ID, keep.Label, keep.Type
	n.Position, n.InitialPosition = keep.Position, keep.InitialPosition
	n.Color, n.Size = keep.Color, keep.Size

	out := n.Clone()
	count := len(s.order)
	edges := len(s.edges)
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeUpdate, NodeIDs: []string{id}, NodeCount: count, EdgeCount: edges})
	}
	return out, nil
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (common.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.nodes[id]
	if n == nil {
		return common.Node{}, false
	}
	return n.Clone(), true
}

// FindByLabel returns the earliest inserted node with the given label,
// compared case-insensitively.
func (s *Store) FindByLabel(label string) (common.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.resolveLocked(label, nil)
	if id == "" {
		return common.Node{}, false
	}
	return s.nodes[id].Clone(), true
}

// Neighbours returns the nodes connected to id in edge insertion order.
func (s *Store) Neighbours(id string) []common.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Node
	for _, e := range s.edges {
		var other string
		switch id {
		case e.Source:
			other = e.Target
		case e.Target:
			other = e.Source
		default:
			continue
		}
		if n := s.nodes[other]; n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Connected reports whether an edge joins a and b.
func (s *Store) Connected(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edgePairs[pairKey(a, b)]
	return ok
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), len(s.edges)
}

// Snapshot returns a deep copy of the whole graph.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes: make([]common.Node, 0, len(s.order)),
		Edges: make([]common.Edge, len(s.edges)),
	}
	for _, id := range s.order {
		snap.Nodes = append(snap.Nodes, s.nodes[id].Clone())
	}
	copy(snap.Edges, s.edges)
	return snap
}

// Reset drops every node and edge.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	metrics.GraphGrowth(0, 0, 0)
	logger.Info("[Graph] Store reset")
	s.notify(Change{Kind: ChangeReset})
}

func (s *Store) insertLocked(n *common.Node, key string) {
	s.nodes[n.ID] = n
	s.order = append(s.order, n.ID)
	s.byKey[key] = n.ID
	label := common.NormalizeLabel(n.Label)
	s.byLabel[label] = append(s.byLabel[label], n.ID)
}

// resolveLocked maps a label to a node id, preferring nodes named in the
// current batch.
func (s *Store) resolveLocked(label string, batch map[string]string) string {
	norm := common.NormalizeLabel(label)
	if norm == "" {
		return ""
	}
	if id, ok := batch[norm]; ok {
		return id
	}
	if ids := s.byLabel[norm]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func (s *Store) connectLocked(a, b string) (string, bool) {
	key := pairKey(a, b)
	if _, ok := s.edgePairs[key]; ok {
		return "", false
	}
	e := common.Edge{ID: s.newID(), Source: a, Target: b}
	s.edges = append(s.edges, e)
	s.edgePairs[key] = struct{}{}
	s.degree[a]++
	s.degree[b]++
	return e.ID, true
}

func (s *Store) resizeLocked() {
	for id, n := range s.nodes {
		n.Size = SizeForDegree(s.degree[id])
	}
}

func (s *Store) newID() string {
	id, err := gonanoid.New()
	if err != nil {
		// only fails when the system random source does
		s.idSeq++
		return fmt.Sprintf("n%d-%d", s.now().UnixNano(), s.idSeq)
	}
	return id
}

