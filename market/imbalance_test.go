package market

import (
	"math"
	"testing"
)

func TestDisbalancePercentSymmetry(t *testing.T) {
	pairs := [][2]float64{{1, 1}, {0, 5}, {5, 0}, {0.3, 7.1}, {1e-9, 1e9}, {123.4, 56.7}}
	for _, p := range pairs {
		sum := DisbalancePercent(p[0], p[1]) + DisbalancePercent(p[1], p[0])
		if math.Abs(sum-100) > 1e-9 {
			t.Errorf("disbalance(%v,%v) + reverse = %v, want 100", p[0], p[1], sum)
		}
	}
	if got := DisbalancePercent(0, 0); got != 50 {
		t.Errorf("DisbalancePercent(0,0) = %v, want 50", got)
	}
}

func TestFixDisbalanceReachesTarget(t *testing.T) {
	cases := []struct {
		a, b, target float64
	}{
		{a: 10, b: 1, target: 30},
		{a: 1, b: 10, target: 30},
		{a: 0, b: 4, target: 12.5},
		{a: 3, b: 3, target: 45},
		{a: 2, b: 8, target: 20},
	}
	for _, c := range cases {
		a, b := FixDisbalance(c.a, c.b, c.target)
		if got := DisbalancePercent(a, b); math.Abs(got-c.target) > 1e-9 {
			t.Errorf("FixDisbalance(%v,%v,%v) -> %v%%", c.a, c.b, c.target, got)
		}
		if a < c.a || b < c.b {
			t.Errorf("FixDisbalance must only add volume: (%v,%v) -> (%v,%v)", c.a, c.b, a, b)
		}
	}
}

func TestFixDisbalanceIgnoresBadTarget(t *testing.T) {
	a, b := FixDisbalance(1, 2, 0)
	if a != 1 || b != 2 {
		t.Fatalf("expected unchanged, got %v %v", a, b)
	}
	a, b = FixDisbalance(1, 2, 100)
	if a != 1 || b != 2 {
		t.Fatalf("expected unchanged, got %v %v", a, b)
	}
}
