package graph

import (
	"math"

	"github.com/folio-graph/folio/pkg/common"
)

// Node sizing. A node grows with the square root of its degree so hubs
// stand out without dwarfing the rest of the graph.
const (
	SizeBase   = 1.0
	SizeGrowth = 0.35
	SizeMin    = 0.6
	SizeMax    = 3.0
)

var typeColors = map[common.NodeType]string{
	common.NodeTypeBook:    "#4f8ef7",
	common.NodeTypeAuthor:  "#f2a541",
	common.NodeTypeConcept: "#9b6bd6",
}

// SizeForDegree returns the display size of a node with the given degree.
func SizeForDegree(degree int) float64 {
	if degree < 0 {
		degree = 0
	}
	size := SizeBase + math.Sqrt(float64(degree))*SizeGrowth
	return math.Min(SizeMax, math.Max(SizeMin, size))
}

// ColorFor returns the display color of a node type. Unknown types use the
// concept color.
func ColorFor(t common.NodeType) string {
	if c, ok := typeColors[t]; ok {
		return c
	}
	return typeColors[common.NodeTypeConcept]
}
