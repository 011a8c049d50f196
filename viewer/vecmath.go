package viewer

import (
	"math"

	"github.com/BaSui01/cadflow/mesh"
)

// Vec3 aliases the mesh vector so geometry and scene share one type.
type Vec3 = mesh.Vec3

func add(a, b Vec3) Vec3 { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

func sub(a, b Vec3) Vec3 { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func scale(a Vec3, s float32) Vec3 { return Vec3{a[0] * s, a[1] * s, a[2] * s} }

func dot(a, b Vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func length(a Vec3) float32 { return float32(math.Sqrt(float64(dot(a, a)))) }

func normalize(a Vec3) Vec3 {
	l := length(a)
	if l == 0 {
		return Vec3{}
	}
	return scale(a, 1/l)
}

// spherical is a y-up polar coordinate around a target.
type spherical struct {
	radius float64
	theta  float64 // azimuth around +y, 0 looks down -z from +z
	phi    float64 // polar angle from +y
}

const epsPhi = 1e-6

func sphericalFrom(offset Vec3) spherical {
	x, y, z := float64(offset[0]), float64(offset[1]), float64(offset[2])
	r := math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		return spherical{}
	}
	return spherical{
		radius: r,
		theta:  math.Atan2(x, z),
		phi:    math.Acos(clamp(y/r, -1, 1)),
	}
}

func (s spherical) vec() Vec3 {
	sinPhi := math.Sin(s.phi)
	return Vec3{
		float32(s.radius * sinPhi * math.Sin(s.theta)),
		float32(s.radius * math.Cos(s.phi)),
		float32(s.radius * sinPhi * math.Cos(s.theta)),
	}
}

// makeSafe keeps phi off the poles where the view direction degenerates.
func (s spherical) makeSafe() spherical {
	s.phi = clamp(s.phi, epsPhi, math.Pi-epsPhi)
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
