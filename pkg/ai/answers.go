package ai

import (
	"fmt"
	"strings"

	"github.com/folio-graph/folio/pkg/common"
)

// Structured answer types. Fields carry no omitempty so that every property
// is required, which strict structured output demands; "no value" is an
// empty string or 0 instead.

type GraphEntity struct {
	Label           string `json:"label" jsonschema_description:"Title of the book, full name of the author or name of the concept."`
	Type            string `json:"type" jsonschema:"enum=book,enum=author,enum=concept"`
	Description     string `json:"description" jsonschema_description:"One or two sentences describing the entity."`
	PublicationYear int    `json:"publicationYear" jsonschema_description:"Year of first publication for books, 0 otherwise."`
	Series          string `json:"series" jsonschema_description:"Series the book belongs to, empty if none."`
}

type GraphLink struct {
	Source string `json:"source" jsonschema_description:"Exact label of the first entity."`
	Target string `json:"target" jsonschema_description:"Exact label of the second entity."`
}

// GraphAnswer is returned by search and expansion requests.
type GraphAnswer struct {
	Entities   []GraphEntity `json:"entities" jsonschema_description:"Entities, the primary subject first."`
	Edges      []GraphLink   `json:"edges"`
	Commentary string        `json:"commentary" jsonschema_description:"One sentence for the user."`
}

// PathAnswer is returned by connection path requests.
type PathAnswer struct {
	Path       []string      `json:"path" jsonschema_description:"Labels of the chain from start to end."`
	Entities   []GraphEntity `json:"entities"`
	Edges      []GraphLink   `json:"edges"`
	Commentary string        `json:"commentary"`
}

type Recommendation struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Reason string `json:"reason"`
}

type RecommendationAnswer struct {
	Recommendations []Recommendation `json:"recommendations"`
}

type SummaryAnswer struct {
	Summary  string `json:"summary"`
	Analysis string `json:"analysis"`
}

// ToEntity converts a generated entity into the merge input shape.
func (e GraphEntity) ToEntity() common.Entity {
	out := common.Entity{
		Label:       strings.TrimSpace(e.Label),
		Type:        e.Type,
		Description: strings.TrimSpace(e.Description),
	}
	if e.PublicationYear > 0 {
		year := e.PublicationYear
		out.PublicationYear = &year
	}
	if s := strings.TrimSpace(e.Series); s != "" {
		out.Series = &s
	}
	return out
}

// Entities converts every entity of the answer, keeping order.
func Entities(in []GraphEntity) []common.Entity {
	out := make([]common.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, e.ToEntity())
	}
	return out
}

// EdgeRefs converts generated links into label references.
func EdgeRefs(in []GraphLink) []common.EdgeRef {
	out := make([]common.EdgeRef, 0, len(in))
	for _, l := range in {
		out = append(out, common.EdgeRef{Source: l.Source, Target: l.Target})
	}
	return out
}

// BuildSearchPrompt fills SearchPrompt.
func BuildSearchPrompt(query string) string {
	return fmt.Sprintf(SearchPrompt, strings.TrimSpace(query))
}

// BuildExpandPrompt fills ExpandPrompt with the node and the labels of its
// current neighbours.
func BuildExpandPrompt(node common.Node, neighbours []string) string {
	return fmt.Sprintf(ExpandPrompt,
		node.Label,
		node.Type,
		orUnknown(node.Description),
		bulletList(neighbours),
	)
}

func BuildPathPrompt(start, end common.Node) string {
	return fmt.Sprintf(PathPrompt,
		start.Label, start.Type, orUnknown(start.Description),
		end.Label, end.Type, orUnknown(end.Description),
	)
}

// BuildRecommendationPrompt fills RecommendationPrompt. liked and excluded
// are "Title by Author" lines.
func BuildRecommendationPrompt(liked, excluded []string, count int) string {
	return fmt.Sprintf(RecommendationPrompt, bulletList(liked), bulletList(excluded), count)
}

func BuildSummaryPrompt(node common.Node) string {
	return fmt.Sprintf(SummaryPrompt, node.Label, node.Type, orUnknown(node.Description))
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return noneListed
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
