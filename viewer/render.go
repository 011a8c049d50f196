package viewer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Frame is what the render loop hands to a sink on each tick.
type Frame struct {
	Seq      uint64
	At       time.Time
	Camera   Camera
	Lights   []Light
	Material Material
	Geometry *Geometry
	// Moved reports whether the camera changed since the previous frame.
	Moved bool
}

// FrameSink draws frames. It runs on the render goroutine and must not block
// on network I/O.
type FrameSink interface {
	DrawFrame(ctx context.Context, f Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, f Frame) error

// DrawFrame calls fn.
func (fn FrameSinkFunc) DrawFrame(ctx context.Context, f Frame) error { return fn(ctx, f) }

// RenderConfig configures the render loop.
type RenderConfig struct {
	FPS int `yaml:"fps" json:"fps"`
}

// DefaultRenderConfig returns 60 frames per second.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{FPS: 60}
}

// ErrRenderRunning is returned by Start on a running session.
var ErrRenderRunning = errors.New("render session already running")

// RenderSession owns the frame loop. Geometry is swapped in atomically from
// any goroutine; the loop picks it up on its next tick.
type RenderSession struct {
	scene  *Scene
	sink   FrameSink
	cfg    RenderConfig
	logger *zap.Logger

	geometry atomic.Pointer[Geometry]
	frames   atomic.Uint64
	sinkErrs atomic.Uint64

	// mu guards scene and controls, which user input also touches.
	mu sync.Mutex

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRenderSession creates a stopped session.
func NewRenderSession(scene *Scene, sink FrameSink, cfg RenderConfig, logger *zap.Logger) *RenderSession {
	if scene == nil {
		scene = NewScene()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultRenderConfig().FPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderSession{
		scene:  scene,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "render_session")),
	}
}

// SetGeometry replaces the displayed geometry. nil clears the view.
func (r *RenderSession) SetGeometry(g *Geometry) {
	r.geometry.Store(g)
}

// Geometry returns the displayed geometry.
func (r *RenderSession) Geometry() *Geometry {
	return r.geometry.Load()
}

// Rotate forwards orbit input to the controls.
func (r *RenderSession) Rotate(azimuth, polar float64) {
	r.mu.Lock()
	r.scene.Controls.Rotate(azimuth, polar)
	r.mu.Unlock()
}

// Zoom forwards dolly input to the controls.
func (r *RenderSession) Zoom(factor float64) {
	r.mu.Lock()
	r.scene.Controls.Zoom(factor)
	r.mu.Unlock()
}

// Camera returns the current camera.
func (r *RenderSession) Camera() Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene.Camera
}

// Frames returns how many frames were drawn.
func (r *RenderSession) Frames() uint64 { return r.frames.Load() }

// Start launches the loop. It stops when ctx is done or Stop is called.
func (r *RenderSession) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.running {
		return ErrRenderRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx, r.done)
	r.logger.Debug("render loop started", zap.Int("fps", r.cfg.FPS))
	return nil
}

// Stop ends the loop and waits for it to exit. Calling it again, or on a
// session that never started, is a no-op.
func (r *RenderSession) Stop() {
	r.lifeMu.Lock()
	if !r.running {
		r.lifeMu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.lifeMu.Unlock()

	cancel()
	<-done
	r.logger.Debug("render loop stopped", zap.Uint64("frames", r.frames.Load()))
}

// Running reports whether the loop is active.
func (r *RenderSession) Running() bool {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.running
}

func (r *RenderSession) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.FPS))
	defer ticker.Stop()

	var framed *Geometry
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g := r.geometry.Load()
			if g == nil {
				framed = nil
				continue
			}
			r.tick(ctx, now, g, g != framed)
			framed = g
		}
	}
}

func (r *RenderSession) tick(ctx context.Context, now time.Time, g *Geometry, reframe bool) {
	r.mu.Lock()
	if reframe {
		r.scene.Frame(g)
	}
	moved := r.scene.Controls.Update()
	r.scene.Camera.Position = r.scene.Controls.Position()
	r.scene.Camera.Target = r.scene.Controls.Target
	f := Frame{
		Seq:      r.frames.Load() + 1,
		At:       now,
		Camera:   r.scene.Camera,
		Lights:   r.scene.Lights,
		Material: r.scene.Material,
		Geometry: g,
		Moved:    moved || reframe,
	}
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.DrawFrame(ctx, f); err != nil {
			// 只记录首个错误，避免每帧刷日志
			if r.sinkErrs.Add(1) == 1 {
				r.logger.Warn("frame sink failed", zap.Error(err))
			}
		}
	}
	r.frames.Add(1)
}
