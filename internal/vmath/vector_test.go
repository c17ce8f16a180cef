package vmath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestVectorArithmetic(t *testing.T) {
	a := Vector3{X: 1, Y: 2, Z: 3}
	b := Vector3{X: -1, Y: 0.5, Z: 2}

	sum := a.Add(b)
	if sum != (Vector3{X: 0, Y: 2.5, Z: 5}) {
		t.Fatalf("unexpected sum %+v", sum)
	}
	diff := a.Sub(b)
	if diff != (Vector3{X: 2, Y: 1.5, Z: 1}) {
		t.Fatalf("unexpected difference %+v", diff)
	}
	scaled := a.Scale(2)
	if scaled != (Vector3{X: 2, Y: 4, Z: 6}) {
		t.Fatalf("unexpected scale %+v", scaled)
	}
}

func TestMagnitudeAndNormalize(t *testing.T) {
	v := Vector3{X: 3, Y: 4, Z: 0}
	if !almostEqual(v.Magnitude(), 5) {
		t.Fatalf("expected magnitude 5, got %v", v.Magnitude())
	}
	unit := v.Normalize()
	if !almostEqual(unit.Magnitude(), 1) {
		t.Fatalf("expected unit length, got %v", unit.Magnitude())
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	if got := (Vector3{}).Normalize(); got != (Vector3{}) {
		t.Fatalf("normalizing zero vector must return zero, got %+v", got)
	}
}

func TestNormalizeDirectionPreservedUnderPositiveScale(t *testing.T) {
	v := Vector3{X: 0.3, Y: -1.7, Z: 2.2}
	a := v.Scale(5).Normalize()
	b := v.Normalize()
	if !almostEqual(a.X, b.X) || !almostEqual(a.Y, b.Y) || !almostEqual(a.Z, b.Z) {
		t.Fatalf("normalize not scale invariant: %+v vs %+v", a, b)
	}
}

func TestClampMagnitude(t *testing.T) {
	v := Vector3{X: 10, Y: 0, Z: 0}
	clamped := v.ClampMagnitude(3)
	if !almostEqual(clamped.Magnitude(), 3) {
		t.Fatalf("expected magnitude 3, got %v", clamped.Magnitude())
	}
	// Direction must survive the clamp.
	if clamped.X <= 0 {
		t.Fatalf("clamp flipped direction: %+v", clamped)
	}
	if got := v.ClampMagnitude(0); got != v {
		t.Fatalf("zero limit must disable clamping, got %+v", got)
	}
	short := Vector3{X: 1}
	if got := short.ClampMagnitude(5); got != short {
		t.Fatalf("vector under the limit must be untouched, got %+v", got)
	}
}

func TestAABBOverlap(t *testing.T) {
	a := BoxAt(Vector3{}, Vector3{X: 2, Y: 2, Z: 2})
	b := BoxAt(Vector3{X: 1.5, Y: 0, Z: 0}, Vector3{X: 2, Y: 2, Z: 2})
	if !a.Overlaps(b) {
		t.Fatalf("expected overlapping boxes to intersect")
	}
	c := BoxAt(Vector3{X: 5, Y: 0, Z: 0}, Vector3{X: 2, Y: 2, Z: 2})
	if a.Overlaps(c) {
		t.Fatalf("expected disjoint boxes not to intersect")
	}
	// Touching faces count as contact.
	d := BoxAt(Vector3{X: 2, Y: 0, Z: 0}, Vector3{X: 2, Y: 2, Z: 2})
	if !a.Overlaps(d) {
		t.Fatalf("expected touching faces to report contact")
	}
}

func TestIsFinite(t *testing.T) {
	if !(Vector3{X: 1, Y: 2, Z: 3}).IsFinite() {
		t.Fatalf("finite vector misreported")
	}
	if (Vector3{X: math.NaN()}).IsFinite() {
		t.Fatalf("NaN component must not be finite")
	}
	if (Vector3{Z: math.Inf(1)}).IsFinite() {
		t.Fatalf("Inf component must not be finite")
	}
}
