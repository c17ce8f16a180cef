package vmath

import "math"

// Vector3 is a plain 3D vector with value semantics; operators return new values.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of the two vectors.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns the component-wise difference v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns the vector multiplied by the scalar k.
func (v Vector3) Scale(k float64) Vector3 {
	return Vector3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Magnitude returns the Euclidean length of the vector.
func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalize returns the unit vector in the same direction, or the zero
// vector when the magnitude is zero.
func (v Vector3) Normalize() Vector3 {
	mag := v.Magnitude()
	if mag == 0 {
		return Vector3{}
	}
	return v.Scale(1 / mag)
}

// ClampMagnitude returns the vector with its length limited to max while
// preserving direction. Non-positive limits disable the clamp.
func (v Vector3) ClampMagnitude(max float64) Vector3 {
	if !(max > 0) {
		return v
	}
	magSq := v.X*v.X + v.Y*v.Y + v.Z*v.Z
	if magSq == 0 || magSq <= max*max {
		return v
	}
	//1.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return v.Scale(max / math.Sqrt(magSq))
}

// Distance returns the Euclidean distance between the two points.
func Distance(a, b Vector3) float64 {
	return a.Sub(b).Magnitude()
}

// IsFinite reports whether every component is a finite number.
func (v Vector3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// AABB is an axis-aligned bounding box described by its center and half extents.
type AABB struct {
	Center Vector3
	Half   Vector3
}

// BoxAt builds an AABB centered at position with the provided full extents.
func BoxAt(center, size Vector3) AABB {
	return AABB{Center: center, Half: size.Scale(0.5)}
}

// Min returns the minimum corner of the box.
func (b AABB) Min() Vector3 {
	return b.Center.Sub(b.Half)
}

// Max returns the maximum corner of the box.
func (b AABB) Max() Vector3 {
	return b.Center.Add(b.Half)
}

// Overlaps reports whether the two boxes intersect, touching faces included.
func (b AABB) Overlaps(o AABB) bool {
	bMin, bMax := b.Min(), b.Max()
	oMin, oMax := o.Min(), o.Max()
	//1.- Separating-axis test per axis; any gap means no overlap.
	if bMax.X < oMin.X || bMin.X > oMax.X {
		return false
	}
	if bMax.Y < oMin.Y || bMin.Y > oMax.Y {
		return false
	}
	if bMax.Z < oMin.Z || bMin.Z > oMax.Z {
		return false
	}
	return true
}
