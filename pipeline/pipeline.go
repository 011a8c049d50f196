package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/internal/artifact"
	"github.com/BaSui01/cadflow/llm/scriptgen"
	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/types"
)

// Config configures the pipeline entry points.
type Config struct {
	// Language is the dialect requested from the generator.
	Language script.Language `yaml:"language" json:"language"`
	// ScriptOutputDir, when set, receives the latest script as output.<ext>.
	ScriptOutputDir string `yaml:"script_output_dir" json:"script_output_dir"`
}

// Result is what a full run produced. Artifact is nil when no converter is
// configured.
type Result struct {
	Script   *script.GeneratedScript
	Artifact *artifact.Artifact
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.obs = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline chains prompt -> script -> artifact -> publish.
type Pipeline struct {
	gen       scriptgen.Generator
	conv      *Converter
	artifacts *artifact.Server
	cfg       Config
	obs       Observer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a pipeline. conv may be nil, in which case Run stops after
// generation and ConvertAndPublish fails with SERVICE_UNAVAILABLE.
func New(gen scriptgen.Generator, conv *Converter, artifacts *artifact.Server, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:       gen,
		conv:      conv,
		artifacts: artifacts,
		cfg:       cfg,
		obs:       nopObserver{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	return p
}

// CanConvert reports whether a kernel is configured.
func (p *Pipeline) CanConvert() bool { return p.conv != nil }

// Artifacts returns the artifact server.
func (p *Pipeline) Artifacts() *artifact.Server { return p.artifacts }

// Language returns the configured script dialect.
func (p *Pipeline) Language() script.Language { return p.cfg.Language }

// =============================================================================
// 🎯 入口
// =============================================================================

// Generate asks the generator for a script.
func (p *Pipeline) Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error) {
	if p.gen == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "no script generator configured").WithStage(types.StageGenerate)
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(
		attribute.String("cadflow.generator", p.gen.Name()),
	))
	defer span.End()

	start := time.Now()
	s, err := p.gen.Generate(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			err = asStageError(err, types.StageGenerate, types.ErrGenerationFailed)
		}
		outcome := OutcomeError
		if types.IsCode(err, types.ErrTimeout) {
			outcome = OutcomeTimeout
		}
		p.obs.RecordGeneration(p.gen.Name(), outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("generation failed", zap.String("backend", p.gen.Name()), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}

	p.obs.RecordGeneration(p.gen.Name(), OutcomeSuccess, elapsed)
	span.SetAttributes(attribute.String("cadflow.fingerprint", s.Fingerprint))
	p.logger.Info("script generated",
		zap.String("backend", p.gen.Name()),
		zap.String("fingerprint", s.Fingerprint),
		zap.Int("length", len(s.Source)),
		zap.Duration("elapsed", elapsed),
	)
	p.persist(s)
	return s, nil
}

// Run generates a script and, when a converter is configured, converts and
// publishes it.
func (p *Pipeline) Run(ctx context.Context, req script.PromptRequest) (*Result, error) {
	s, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Script: s}
	if p.conv == nil {
		return res, nil
	}
	a, err := p.ConvertAndPublish(ctx, s.Source)
	if err != nil {
		return res, err
	}
	res.Artifact = a
	return res, nil
}

// ConvertAndPublish converts source and publishes the artifact. Nothing is
// published on failure.
func (p *Pipeline) ConvertAndPublish(ctx context.Context, source string) (*artifact.Artifact, error) {
	if p.conv == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "no geometry kernel configured").WithStage(types.StageConvert)
	}
	if source == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "script is empty").WithStage(types.StageConvert)
	}
	a, err := p.conv.Convert(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := p.artifacts.Publish(ctx, a); err != nil {
		return nil, err
	}
	p.obs.RecordPublish(a.Size(), int(a.TriangleCount))
	return a, nil
}

// persist writes the script to ScriptOutputDir. Failures are logged only.
func (p *Pipeline) persist(s *script.GeneratedScript) {
	if p.cfg.ScriptOutputDir == "" {
		return
	}
	path := filepath.Join(p.cfg.ScriptOutputDir, "output"+p.cfg.Language.Extension())
	if err := writeFileAtomic(path, []byte(s.Source)); err != nil {
		p.logger.Warn("failed to persist script", zap.String("path", path), zap.Error(err))
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".script-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
