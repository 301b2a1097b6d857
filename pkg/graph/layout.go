package graph

import (
	"math"

	"github.com/folio-graph/folio/pkg/common"
)

// goldenAngle spreads consecutive nodes around the vertical axis so that no
// two neighbours in insertion order end up close to each other.
var goldenAngle = math.Pi * (3 - math.Sqrt(5))

const (
	baseRadius   = 40.0
	radiusGrowth = 18.0
)

// Position returns the rest position of the index-th node of a graph that
// is expected to hold estimatedTotal nodes. Nodes are laid out on a
// Fibonacci sphere whose radius grows with the cube root of the index, so
// later nodes land on wider shells and existing nodes never move.
//
// The result is a pure function of its arguments.
func Position(index, estimatedTotal int) common.Vec3 {
	if index < 0 {
		index = 0
	}
	i := float64(index)

	radius := baseRadius + math.Cbrt(i)*radiusGrowth

	span := math.Max(1, float64(estimatedTotal-1))
	y := 1 - (i/span)*2
	radiusAtY := math.Sqrt(math.Max(0, 1-y*y))

	theta := goldenAngle * i

	return common.Vec3{
		X: math.Cos(theta) * radiusAtY * radius,
		Y: y * radius,
		Z: math.Sin(theta) * radiusAtY * radius,
	}
}
