package viewer

import (
	"math"
)

// =============================================================================
// 💡 场景
// =============================================================================

// LightKind distinguishes light sources.
type LightKind string

const (
	LightAmbient LightKind = "ambient"
	LightPoint   LightKind = "point"
)

// Light is a scene light. Position is ignored for ambient lights.
type Light struct {
	Kind      LightKind
	Color     [3]float32
	Intensity float32
	Position  Vec3
}

// Material describes the physically based surface of the model.
type Material struct {
	Color     [3]float32
	Metalness float32
	Roughness float32
}

// Camera is a perspective camera looking at Target.
type Camera struct {
	Position Vec3
	Target   Vec3
	Up       Vec3
	FOV      float32 // vertical, degrees
	Near     float32
	Far      float32
}

// Scene holds everything drawn besides the geometry.
type Scene struct {
	Lights   []Light
	Material Material
	Camera   Camera
	Controls *OrbitControls
}

var white = [3]float32{1, 1, 1}

// NewScene returns the default stage: a soft ambient light, one point light
// at (10, 10, 10) and a camera on +z looking at the origin.
func NewScene() *Scene {
	cam := Camera{
		Position: Vec3{0, 0, 100},
		Up:       Vec3{0, 1, 0},
		FOV:      75,
		Near:     0.1,
		Far:      1000,
	}
	return &Scene{
		Lights: []Light{
			{Kind: LightAmbient, Color: white, Intensity: 0.5},
			{Kind: LightPoint, Color: white, Intensity: 1, Position: Vec3{10, 10, 10}},
		},
		Material: Material{
			Color:     [3]float32{1, 0.647, 0}, // orange
			Metalness: 0.3,
			Roughness: 0.4,
		},
		Camera:   cam,
		Controls: NewOrbitControls(cam.Position, cam.Target),
	}
}

// Frame aims the controls at g and backs the camera off far enough to see
// the whole bounding sphere. The default distance is kept when it suffices.
func (s *Scene) Frame(g *Geometry) {
	if g == nil {
		return
	}
	center := g.Bounds.Center()
	radius := float64(g.Bounds.Radius())

	halfFOV := float64(s.Camera.FOV) * math.Pi / 360
	fit := radius / math.Sin(halfFOV) * 1.1
	dist := math.Max(fit, float64(length(sub(s.Camera.Position, s.Camera.Target))))

	s.Controls.Retarget(center, dist)
	s.Camera.Target = center
	s.Camera.Position = s.Controls.Position()
	if far := float32(dist + 4*radius); far > s.Camera.Far {
		s.Camera.Far = far
	}
}

// =============================================================================
// 🎮 轨道控制
// =============================================================================

// OrbitControls rotates and dollies a camera around a target, with optional
// damping so motion eases out over following frames.
type OrbitControls struct {
	Target Vec3

	EnableDamping bool
	DampingFactor float64
	RotateSpeed   float64
	ZoomSpeed     float64
	MinDistance   float64
	MaxDistance   float64

	sph        spherical
	delta      spherical // only theta and phi are used
	scale      float64
	lastOffset Vec3
}

// NewOrbitControls starts at position looking at target.
func NewOrbitControls(position, target Vec3) *OrbitControls {
	return &OrbitControls{
		Target:        target,
		EnableDamping: true,
		DampingFactor: 0.05,
		RotateSpeed:   1,
		ZoomSpeed:     1,
		MinDistance:   0,
		MaxDistance:   math.Inf(1),
		sph:           sphericalFrom(sub(position, target)),
		scale:         1,
	}
}

// Rotate queues an orbit by the given azimuth and polar angles in radians.
func (c *OrbitControls) Rotate(azimuth, polar float64) {
	c.delta.theta -= azimuth * c.RotateSpeed
	c.delta.phi -= polar * c.RotateSpeed
}

// Zoom queues a dolly. factor > 1 moves closer, < 1 moves away.
func (c *OrbitControls) Zoom(factor float64) {
	if factor <= 0 {
		return
	}
	c.scale /= math.Pow(factor, c.ZoomSpeed)
}

// Retarget recenters on target at distance without altering the view angle.
func (c *OrbitControls) Retarget(target Vec3, distance float64) {
	c.Target = target
	c.sph.radius = distance
	c.delta = spherical{}
	c.scale = 1
}

// Update applies queued motion and reports whether the camera moved.
func (c *OrbitControls) Update() bool {
	if c.EnableDamping {
		c.sph.theta += c.delta.theta * c.DampingFactor
		c.sph.phi += c.delta.phi * c.DampingFactor
	} else {
		c.sph.theta += c.delta.theta
		c.sph.phi += c.delta.phi
	}
	c.sph = c.sph.makeSafe()

	c.sph.radius = clamp(c.sph.radius*c.scale, c.MinDistance, c.MaxDistance)
	c.scale = 1

	if c.EnableDamping {
		c.delta.theta *= 1 - c.DampingFactor
		c.delta.phi *= 1 - c.DampingFactor
	} else {
		c.delta = spherical{}
	}

	offset := c.sph.vec()
	moved := length(sub(offset, c.lastOffset)) > 1e-6
	c.lastOffset = offset
	return moved
}

// Position is the camera position implied by the current state.
func (c *OrbitControls) Position() Vec3 {
	return add(c.Target, c.sph.vec())
}

// Distance is the camera distance from the target.
func (c *OrbitControls) Distance() float64 { return c.sph.radius }
