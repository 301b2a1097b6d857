package graph

import (
	"strings"

	"github.com/folio-graph/folio/pkg/common"
)

// fillMissing copies every field of e into n that n does not have yet.
// Present values are never overwritten and empty strings count as absent.
// It reports whether anything changed.
func fillMissing(n *common.Node, e common.Entity) bool {
	changed := false

	if strings.TrimSpace(n.Description) == "" {
		if d := strings.TrimSpace(e.Description); d != "" {
			n.Description = d
			changed = true
		}
	}
	if n.PublicationYear == nil && e.PublicationYear != nil && *e.PublicationYear > 0 {
		y := *e.PublicationYear
		n.PublicationYear = &y
		changed = true
	}
	if fillString(&n.Series, e.Series) {
		changed = true
	}
	if fillString(&n.ExternalKey, e.ExternalKey) {
		changed = true
	}
	if fillString(&n.ImageURL, e.ImageURL) {
		changed = true
	}
	if len(n.GroundingSources) == 0 && len(e.GroundingSources) > 0 {
		n.GroundingSources = append([]common.GroundingSource(nil), e.GroundingSources...)
		changed = true
	}

	return changed
}

func fillString(dst **string, src *string) bool {
	if *dst != nil && strings.TrimSpace(**dst) != "" {
		return false
	}
	if src == nil {
		return false
	}
	v := strings.TrimSpace(*src)
	if v == "" {
		return false
	}
	*dst = &v
	return true
}

// pairKey identifies an undirected edge independent of direction.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// dedupeEntities collapses entities of one batch that share an identity,
// keeping the first occurrence and filling its gaps from later ones. The
// order of first occurrences is preserved so the primary subject stays
// first.
func dedupeEntities(entities []common.Entity) []common.Entity {
	out := make([]common.Entity, 0, len(entities))
	index := make(map[string]int, len(entities))

	for _, e := range entities {
		e.Label = strings.Join(strings.Fields(e.Label), " ")
		if e.Label == "" {
			continue
		}
		key := common.IdentityKey(common.NormalizeNodeType(e.Type), e.Label)
		if i, ok := index[key]; ok {
			mergeEntity(&out[i], e)
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

func mergeEntity(dst *common.Entity, src common.Entity) {
	if strings.TrimSpace(dst.Description) == "" {
		dst.Description = src.Description
	}
	if dst.PublicationYear == nil {
		dst.PublicationYear = src.PublicationYear
	}
	if dst.Series == nil {
		dst.Series = src.Series
	}
	if dst.ExternalKey == nil {
		dst.ExternalKey = src.ExternalKey
	}
	if dst.ImageURL == nil {
		dst.ImageURL = src.ImageURL
	}
	if dst.Position == nil {
		dst.Position = src.Position
	}
	if len(dst.GroundingSources) == 0 {
		dst.GroundingSources = src.GroundingSources
	}
}
