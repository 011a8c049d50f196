// Package fixtures 提供测试用的网格与脚本样例。
package fixtures

import "github.com/BaSui01/cadflow/mesh"

// CubeScript is an OpenSCAD script for a 20mm cube.
const CubeScript = "cube(20);"

// FilletedCubeScript differs from CubeScript by content and so by fingerprint.
const FilletedCubeScript = "minkowski() { cube(10); sphere(5); }"

// Cube returns the 12-facet 20mm cube.
func Cube() []mesh.Triangle {
	return mesh.Cube(20)
}

// CubeSTL returns Cube encoded as binary STL.
func CubeSTL() []byte {
	return mesh.Encode(Cube())
}

// Tetrahedron returns a 4-facet mesh.
func Tetrahedron() []mesh.Triangle {
	a := mesh.Vec3{0, 0, 0}
	b := mesh.Vec3{1, 0, 0}
	c := mesh.Vec3{0, 1, 0}
	d := mesh.Vec3{0, 0, 1}
	tris := []mesh.Triangle{
		{V: [3]mesh.Vec3{a, c, b}},
		{V: [3]mesh.Vec3{a, b, d}},
		{V: [3]mesh.Vec3{a, d, c}},
		{V: [3]mesh.Vec3{b, c, d}},
	}
	return mesh.WithNormals(tris)
}
