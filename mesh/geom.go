package mesh

import "math"

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vec3
}

// Center returns the midpoint of the box.
func (b Box) Center() Vec3 {
	return Vec3{
		(b.Min[0] + b.Max[0]) / 2,
		(b.Min[1] + b.Max[1]) / 2,
		(b.Min[2] + b.Max[2]) / 2,
	}
}

// Size returns the box extent along each axis.
func (b Box) Size() Vec3 {
	return Vec3{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Radius is half the box diagonal.
func (b Box) Radius() float32 {
	s := b.Size()
	return float32(math.Sqrt(float64(s[0]*s[0]+s[1]*s[1]+s[2]*s[2]))) / 2
}

// Bounds returns the box enclosing every vertex. ok is false for an empty soup.
func Bounds(tris []Triangle) (box Box, ok bool) {
	if len(tris) == 0 {
		return Box{}, false
	}
	box.Min = tris[0].V[0]
	box.Max = tris[0].V[0]
	for i := range tris {
		for _, v := range tris[i].V {
			for k := 0; k < 3; k++ {
				if v[k] < box.Min[k] {
					box.Min[k] = v[k]
				}
				if v[k] > box.Max[k] {
					box.Max[k] = v[k]
				}
			}
		}
	}
	return box, true
}

// FaceNormal computes the unit normal from winding order. Degenerate
// triangles yield the zero vector.
func FaceNormal(t Triangle) Vec3 {
	a, b, c := t.V[0], t.V[1], t.V[2]
	u := Vec3{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := Vec3{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := Vec3{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
	l := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if l == 0 {
		return Vec3{}
	}
	return Vec3{n[0] / l, n[1] / l, n[2] / l}
}

// WithNormals returns a copy of tris whose zero normals are filled from
// winding order.
func WithNormals(tris []Triangle) []Triangle {
	out := make([]Triangle, len(tris))
	copy(out, tris)
	for i := range out {
		if out[i].Normal == (Vec3{}) {
			out[i].Normal = FaceNormal(out[i])
		}
	}
	return out
}

// Cube returns the 12 facets of an axis-aligned cube with the given edge
// length and one corner at the origin.
func Cube(size float32) []Triangle {
	s := size
	p := [8]Vec3{
		{0, 0, 0}, {s, 0, 0}, {s, s, 0}, {0, s, 0},
		{0, 0, s}, {s, 0, s}, {s, s, s}, {0, s, s},
	}
	faces := [12][3]int{
		{0, 2, 1}, {0, 3, 2}, // bottom
		{4, 5, 6}, {4, 6, 7}, // top
		{0, 1, 5}, {0, 5, 4}, // front
		{2, 3, 7}, {2, 7, 6}, // back
		{1, 2, 6}, {1, 6, 5}, // right
		{0, 4, 7}, {0, 7, 3}, // left
	}
	tris := make([]Triangle, 0, len(faces))
	for _, f := range faces {
		t := Triangle{V: [3]Vec3{p[f[0]], p[f[1]], p[f[2]]}}
		t.Normal = FaceNormal(t)
		tris = append(tris, t)
	}
	return tris
}
