package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBounds(t *testing.T) {
	t.Parallel()

	_, ok := Bounds(nil)
	assert.False(t, ok)

	box, ok := Bounds(Cube(20))
	assert.True(t, ok)
	assert.Equal(t, Vec3{0, 0, 0}, box.Min)
	assert.Equal(t, Vec3{20, 20, 20}, box.Max)
	assert.Equal(t, Vec3{10, 10, 10}, box.Center())
	assert.InDelta(t, 17.3205, box.Radius(), 1e-3)
}

func TestFaceNormal(t *testing.T) {
	t.Parallel()

	tri := Triangle{V: [3]Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}
	assert.Equal(t, Vec3{0, 0, 1}, FaceNormal(tri))

	degenerate := Triangle{V: [3]Vec3{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}}
	assert.Equal(t, Vec3{}, FaceNormal(degenerate))
}

func TestCube_OutwardNormals(t *testing.T) {
	t.Parallel()

	cube := Cube(2)
	assert.Len(t, cube, 12)
	center := Vec3{1, 1, 1}
	for i, tri := range cube {
		// Outward normal points away from the center.
		v := tri.V[0]
		d := (v[0]-center[0])*tri.Normal[0] + (v[1]-center[1])*tri.Normal[1] + (v[2]-center[2])*tri.Normal[2]
		assert.Greater(t, d, float32(0), "face %d", i)
	}
}

func TestWithNormals(t *testing.T) {
	t.Parallel()

	in := []Triangle{{V: [3]Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}}
	out := WithNormals(in)
	assert.Equal(t, Vec3{}, in[0].Normal, "input untouched")
	assert.Equal(t, Vec3{0, 0, 1}, out[0].Normal)
}
