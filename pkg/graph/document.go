package graph

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/folio-graph/folio/pkg/common"
)

// Document is the portable form of a graph. It is used for the bootstrap
// file, exports and imports. Edge endpoints may be node ids of the same
// document or plain labels.
type Document struct {
	Nodes      []DocumentNode `json:"nodes"`
	Edges      []DocumentEdge `json:"edges"`
	Commentary string         `json:"commentary,omitempty"`
}

type DocumentNode struct {
	ID               string                   `json:"id,omitempty"`
	Label            string                   `json:"label"`
	Type             string                   `json:"type"`
	Description      string                   `json:"description,omitempty"`
	PublicationYear  *int                     `json:"publicationYear,omitempty"`
	Series           *string                  `json:"series,omitempty"`
	ExternalKey      *string                  `json:"externalKey,omitempty"`
	ImageURL         *string                  `json:"imageUrl,omitempty"`
	Summary          *common.Summary          `json:"summary,omitempty"`
	Position         *common.Vec3             `json:"position,omitempty"`
	GroundingSources []common.GroundingSource `json:"groundingSources,omitempty"`
}

type DocumentEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ParseDocument decodes a document. Malformed input is reported as a
// ValidationError.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, &common.ValidationError{Field: "document", Reason: err.Error()}
	}
	return doc, nil
}

// ImportOptions controls how a document is merged.
type ImportOptions struct {
	Timestamp          int64
	SuppressEnrichment bool
}

// Export returns the current graph as a document. Positions and summaries
// are included so an import reproduces the same picture.
func (s *Store) Export() Document {
	snap := s.Snapshot()

	doc := Document{
		Nodes: make([]DocumentNode, 0, len(snap.Nodes)),
		Edges: make([]DocumentEdge, 0, len(snap.Edges)),
	}
	for _, n := range snap.Nodes {
		pos := n.Position
		var summary *common.Summary
		if !n.Summary.IsUnrequested() && n.Summary.State != common.SummaryPending {
			sum := n.Summary
			summary = &sum
		}
		doc.Nodes = append(doc.Nodes, DocumentNode{
			ID:               n.ID,
			Label:            n.Label,
			Type:             string(n.Type),
			Description:      n.Description,
			PublicationYear:  n.PublicationYear,
			Series:           n.Series,
			ExternalKey:      n.ExternalKey,
			ImageURL:         n.ImageURL,
			Summary:          summary,
			Position:         &pos,
			GroundingSources: n.GroundingSources,
		})
	}
	for _, e := range snap.Edges {
		doc.Edges = append(doc.Edges, DocumentEdge{Source: e.Source, Target: e.Target})
	}
	return doc
}

// Import merges a document through AddBatch, so it follows the same
// deduplication rules as any other batch. Stored summaries are applied to
// nodes that have none yet.
func (s *Store) Import(doc Document, opts ImportOptions) (BatchResult, error) {
	if len(doc.Nodes) == 0 {
		return BatchResult{Suppressed: opts.SuppressEnrichment}, nil
	}

	labels := make(map[string]string, len(doc.Nodes))
	entities := make([]common.Entity, 0, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Label == "" {
			return BatchResult{}, &common.ValidationError{
				Field:  fmt.Sprintf("nodes[%d].label", i),
				Reason: "must not be empty",
			}
		}
		if n.ID != "" {
			labels[n.ID] = n.Label
		}
		entities = append(entities, common.Entity{
			Label:            n.Label,
			Type:             n.Type,
			Description:      n.Description,
			PublicationYear:  n.PublicationYear,
			Series:           n.Series,
			ExternalKey:      n.ExternalKey,
			ImageURL:         n.ImageURL,
			Position:         n.Position,
			GroundingSources: n.GroundingSources,
		})
	}

	edges := make([]common.EdgeRef, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		edges = append(edges, common.EdgeRef{
			Source: labelFor(labels, e.Source),
			Target: labelFor(labels, e.Target),
		})
	}

	res := s.AddBatch(Batch{
		Entities:           entities,
		Edges:              edges,
		Timestamp:          opts.Timestamp,
		SuppressEnrichment: opts.SuppressEnrichment,
	})

	for _, n := range doc.Nodes {
		if n.Summary == nil || n.Summary.IsUnrequested() || n.Summary.State == common.SummaryPending {
			continue
		}
		node, ok := s.FindByIdentity(common.NormalizeNodeType(n.Type), n.Label)
		if !ok {
			continue
		}
		summary := *n.Summary
		_, _ = s.UpdateNode(node.ID, func(target *common.Node) bool {
			if !target.Summary.IsUnrequested() {
				return false
			}
			target.Summary = summary
			return true
		})
	}

	return res, nil
}

// FindByIdentity returns the node with the given type and label.
func (s *Store) FindByIdentity(t common.NodeType, label string) (common.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[common.IdentityKey(t, label)]
	if !ok {
		return common.Node{}, false
	}
	return s.nodes[id].Clone(), true
}

func labelFor(ids map[string]string, ref string) string {
	if label, ok := ids[ref]; ok {
		return label
	}
	return ref
}
