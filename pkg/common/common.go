package common

import "strings"

// NodeType classifies an entity in the graph. Works, creators and concepts
// are the only kinds the engine knows how to color and enrich.
type NodeType string

const (
	NodeTypeBook    NodeType = "book"
	NodeTypeAuthor  NodeType = "author"
	NodeTypeConcept NodeType = "concept"
)

// NormalizeNodeType maps free-form type strings coming from the generative
// service onto the known node types. Unknown types are kept as concepts.
func NormalizeNodeType(t string) NodeType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "book", "work", "novel", "creative_work":
		return NodeTypeBook
	case "author", "creator", "writer", "person":
		return NodeTypeAuthor
	default:
		return NodeTypeConcept
	}
}

// HasExternalKey reports whether nodes of this type are tracked by the
// bibliographic service.
func (t NodeType) HasExternalKey() bool {
	return t == NodeTypeBook || t == NodeTypeAuthor
}

// Vec3 is a point in graph space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Vec3) Vec3 {
	return Vec3{
		X: (a.X + b.X) / 2,
		Y: (a.Y + b.Y) / 2,
		Z: (a.Z + b.Z) / 2,
	}
}

// GroundingSource is a citation returned by the generative service.
type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Node is a vertex of the knowledge graph. Identity is the (Type, Label)
// pair; ID is an opaque handle generated on creation.
//
// Nullable fields are pointers so that a merge can tell a missing value
// apart from a present one.
type Node struct {
	ID               string            `json:"id"`
	Label            string            `json:"label"`
	Type             NodeType          `json:"type"`
	Description      string            `json:"description,omitempty"`
	PublicationYear  *int              `json:"publicationYear,omitempty"`
	Series           *string           `json:"series,omitempty"`
	ExternalKey      *string           `json:"externalKey,omitempty"`
	ImageURL         *string           `json:"imageUrl,omitempty"`
	Summary          Summary           `json:"summary"`
	Position         Vec3              `json:"position"`
	InitialPosition  *Vec3             `json:"initialPosition,omitempty"`
	Color            string            `json:"color"`
	Size             float64           `json:"size"`
	LastUpdated      int64             `json:"lastUpdated"`
	GroundingSources []GroundingSource `json:"groundingSources,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() Node {
	out := *n
	out.PublicationYear = cloneInt(n.PublicationYear)
	out.Series = cloneString(n.Series)
	out.ExternalKey = cloneString(n.ExternalKey)
	out.ImageURL = cloneString(n.ImageURL)
	if n.InitialPosition != nil {
		p := *n.InitialPosition
		out.InitialPosition = &p
	}
	if n.GroundingSources != nil {
		out.GroundingSources = append([]GroundingSource(nil), n.GroundingSources...)
	}
	return out
}

// Edge is an undirected connection between two nodes, referenced by id.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Entity is an incoming node description, as produced by the generative
// service, a bootstrap file or an import. Only Label and Type are required.
type Entity struct {
	Label            string            `json:"label"`
	Type             string            `json:"type"`
	Description      string            `json:"description"`
	PublicationYear  *int              `json:"publicationYear,omitempty"`
	Series           *string           `json:"series,omitempty"`
	ExternalKey      *string           `json:"externalKey,omitempty"`
	ImageURL         *string           `json:"imageUrl,omitempty"`
	Position         *Vec3             `json:"position,omitempty"`
	GroundingSources []GroundingSource `json:"groundingSources,omitempty"`
}

// EdgeRef connects two entities by label.
type EdgeRef struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// IdentityKey builds the composite (type, label) key used for deduplication.
func IdentityKey(t NodeType, label string) string {
	return string(t) + "::" + NormalizeLabel(label)
}

// NormalizeLabel folds case and collapses whitespace so that labels coming
// back from the generative service compare reliably.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
