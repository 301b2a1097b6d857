package graph

import (
	"math"
	"testing"
)

func TestPosition(t *testing.T) {
	tests := []struct {
		name           string
		index          int
		estimatedTotal int
		wantY          float64
		wantRadius     float64
	}{
		{"first node sits on top", 0, 10, baseRadius, baseRadius},
		{"last node sits at the bottom", 9, 10, -(baseRadius + math.Cbrt(9)*radiusGrowth), baseRadius + math.Cbrt(9)*radiusGrowth},
		{"single node total", 0, 1, baseRadius, baseRadius},
		{"index past estimate clamps horizontal radius", 5, 2, -9 * (baseRadius + math.Cbrt(5)*radiusGrowth), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Position(tt.index, tt.estimatedTotal)
			if math.Abs(p.Y-tt.wantY) > 1e-9 {
				t.Fatalf("Y = %v, want %v", p.Y, tt.wantY)
			}
			if math.IsNaN(p.X) || math.IsNaN(p.Z) {
				t.Fatalf("position has NaN: %+v", p)
			}
			if tt.wantRadius > 0 {
				r := math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
				if math.Abs(r-tt.wantRadius) > 1e-9 {
					t.Fatalf("radius = %v, want %v", r, tt.wantRadius)
				}
			}
		})
	}
}

func TestPositionIsDeterministic(t *testing.T) {
	for i := range 50 {
		if Position(i, 50) != Position(i, 50) {
			t.Fatalf("Position(%d, 50) not deterministic", i)
		}
	}
}

func TestPositionGoldenAngleSpacing(t *testing.T) {
	a := Position(1, 100)
	b := Position(2, 100)
	thetaA := math.Atan2(a.Z, a.X)
	thetaB := math.Atan2(b.Z, b.X)

	diff := math.Mod(thetaB-thetaA+4*math.Pi, 2*math.Pi)
	if math.Abs(diff-goldenAngle) > 1e-9 {
		t.Fatalf("angular step = %v, want %v", diff, goldenAngle)
	}
}
