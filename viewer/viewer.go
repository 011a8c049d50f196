package viewer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/types"
)

// Viewer drives one session: it submits work, fetches and decodes the mesh
// on the caller's goroutine, and hands finished geometry to the render loop.
type Viewer struct {
	client  *Client
	session *Session
	logger  *zap.Logger
}

// New creates a viewer with a fresh session. render may be nil for
// headless use.
func New(client *Client, render *RenderSession, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := NewSession()
	if render != nil {
		s.OnDisplay(render.SetGeometry)
	}
	return &Viewer{
		client:  client,
		session: s,
		logger:  logger.With(zap.String("component", "viewer"), zap.String("session", s.ID())),
	}
}

// Session returns the viewer session.
func (v *Viewer) Session() *Session { return v.session }

// Submit generates a model from prompt and displays it.
func (v *Viewer) Submit(ctx context.Context, prompt string) error {
	gen := v.session.Submit()
	v.logger.Info("prompt submitted", zap.Uint64("generation", gen))

	resp, err := v.client.GenerateModels(ctx, prompt)
	if err != nil {
		return v.fail(gen, err)
	}
	key := resp.Fingerprint
	if resp.Artifact != nil {
		key = resp.Artifact.Fingerprint
	}
	m, err := v.client.FetchModel(ctx, key)
	if err != nil {
		return v.fail(gen, err)
	}
	return v.deliver(gen, key, m)
}

// SubmitScript converts code directly, skipping generation.
func (v *Viewer) SubmitScript(ctx context.Context, code string) error {
	gen := v.session.Submit()
	v.logger.Info("script submitted", zap.Uint64("generation", gen))

	m, err := v.client.Convert(ctx, code)
	if err != nil {
		return v.fail(gen, err)
	}
	return v.deliver(gen, m.Fingerprint, m)
}

// Load fetches an already published artifact; empty key means latest.
func (v *Viewer) Load(ctx context.Context, key string) error {
	gen := v.session.Submit()
	m, err := v.client.FetchModel(ctx, key)
	if err != nil {
		return v.fail(gen, err)
	}
	fp := m.Fingerprint
	if fp == "" {
		fp = key
	}
	return v.deliver(gen, fp, m)
}

// Reset clears the view and abandons in-flight work.
func (v *Viewer) Reset() {
	v.session.Reset()
}

// Follow loads every newly published artifact until ctx is done.
func (v *Viewer) Follow(ctx context.Context) error {
	return Watch(ctx, v.client.EventsURL(), func(ev api.ArtifactEvent) {
		if err := v.Load(ctx, ev.Fingerprint); err != nil && !errors.Is(err, context.Canceled) {
			v.logger.Warn("auto refresh failed", zap.String("fingerprint", ev.Fingerprint), zap.Error(err))
		}
	})
}

func (v *Viewer) deliver(gen uint64, fingerprint string, m *Model) error {
	tris, err := decodeModel(m)
	if err != nil {
		return v.fail(gen, err)
	}
	g, err := BuildGeometry(fingerprint, tris)
	if err != nil {
		return v.fail(gen, err)
	}
	if !v.session.Deliver(gen, g) {
		v.logger.Debug("stale result dropped", zap.Uint64("generation", gen))
		return nil
	}
	v.logger.Info("model ready",
		zap.Uint64("generation", gen),
		zap.String("fingerprint", fingerprint),
		zap.Int("triangles", g.TriangleCount),
	)
	return nil
}

func (v *Viewer) fail(gen uint64, err error) error {
	ce, ok := AsClientError(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			return err
		}
		ce = &ClientError{Kind: KindUnknown, Raw: err.Error(), Cause: err}
		if e, ok := types.AsError(err); ok && e.Code == types.ErrDecodeError {
			ce.Kind, ce.Code, ce.Stage = KindDecode, e.Code, types.StageDecode
		}
	}
	if v.session.Fail(gen, ce) {
		v.logger.Warn("model failed",
			zap.Uint64("generation", gen),
			zap.String("kind", string(ce.Kind)),
			zap.String("message", ce.Message()),
		)
	}
	return ce
}
