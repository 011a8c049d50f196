package viewer

import (
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/types"
)

// VertexStride is the number of float32 per vertex: position then normal.
const VertexStride = 6

// Geometry is a render-ready, flat-shaded triangle list. It is immutable
// after BuildGeometry returns.
type Geometry struct {
	// Vertices holds x, y, z, nx, ny, nz for each vertex, three per facet.
	Vertices      []float32
	VertexCount   int
	TriangleCount int
	Bounds        mesh.Box
	Fingerprint   string
}

// BuildGeometry interleaves positions and facet normals. Facets without a
// stored normal get one from winding order.
func BuildGeometry(fingerprint string, tris []mesh.Triangle) (*Geometry, error) {
	box, ok := mesh.Bounds(tris)
	if !ok {
		return nil, types.NewError(types.ErrDecodeError, "mesh has no triangles").WithStage(types.StageDecode)
	}

	verts := make([]float32, 0, len(tris)*3*VertexStride)
	for i := range tris {
		n := tris[i].Normal
		if n == (Vec3{}) {
			n = mesh.FaceNormal(tris[i])
		} else {
			n = normalize(n)
		}
		for _, v := range tris[i].V {
			verts = append(verts, v[0], v[1], v[2], n[0], n[1], n[2])
		}
	}

	return &Geometry{
		Vertices:      verts,
		VertexCount:   len(tris) * 3,
		TriangleCount: len(tris),
		Bounds:        box,
		Fingerprint:   fingerprint,
	}, nil
}

// Position returns vertex i.
func (g *Geometry) Position(i int) Vec3 {
	o := i * VertexStride
	return Vec3{g.Vertices[o], g.Vertices[o+1], g.Vertices[o+2]}
}

// Normal returns the normal of vertex i.
func (g *Geometry) Normal(i int) Vec3 {
	o := i*VertexStride + 3
	return Vec3{g.Vertices[o], g.Vertices[o+1], g.Vertices[o+2]}
}
