package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/internal/artifact"
	"github.com/BaSui01/cadflow/internal/dedup"
	"github.com/BaSui01/cadflow/llm/kernel"
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/types"
)

const tracerName = "github.com/BaSui01/cadflow/pipeline"

// ConverterOption customizes a Converter.
type ConverterOption func(*Converter)

// WithConverterObserver attaches a metrics observer.
func WithConverterObserver(o Observer) ConverterOption {
	return func(c *Converter) { c.obs = o }
}

// WithConverterLogger sets the logger.
func WithConverterLogger(l *zap.Logger) ConverterOption {
	return func(c *Converter) { c.logger = l }
}

// Converter turns scripts into artifacts, running the kernel at most once per
// fingerprint.
type Converter struct {
	kernel  kernel.Kernel
	cache   *dedup.Cache[*artifact.Artifact]
	timeout time.Duration
	obs     Observer
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewConverter creates a converter. timeout bounds each kernel call.
func NewConverter(k kernel.Kernel, cache *dedup.Cache[*artifact.Artifact], timeout time.Duration, opts ...ConverterOption) *Converter {
	c := &Converter{
		kernel:  k,
		cache:   cache,
		timeout: timeout,
		obs:     nopObserver{},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "converter"))
	return c
}

// Convert fingerprints source and returns the shared artifact for it.
func (c *Converter) Convert(ctx context.Context, source string) (*artifact.Artifact, error) {
	fp := script.Fingerprint(source)
	ctx = types.WithFingerprint(ctx, fp)
	ctx, span := c.tracer.Start(ctx, "pipeline.convert", trace.WithAttributes(
		attribute.String("cadflow.fingerprint", fp),
		attribute.String("cadflow.kernel", c.kernel.Name()),
	))
	defer span.End()

	res, err := c.cache.Submit(ctx, fp, func(jobCtx context.Context) (*artifact.Artifact, error) {
		return c.run(jobCtx, fp, source)
	})
	if res != nil {
		c.obs.RecordDedup(string(res.Origin))
		span.SetAttributes(attribute.String("cadflow.dedup_origin", string(res.Origin)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("cadflow.triangles", int(res.Value.TriangleCount)))
	return res.Value, nil
}

// run is the dedup work function; it executes once per fingerprint.
func (c *Converter) run(ctx context.Context, fp, source string) (*artifact.Artifact, error) {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tris, err := c.kernel.Execute(ctx, source)
	if err == nil && len(tris) == 0 {
		err = kernel.Rejected(c.kernel.Name(), "kernel produced an empty mesh", nil)
	}
	if err != nil {
		err = asStageError(err, types.StageConvert, types.ErrConversionFailed)
		outcome := OutcomeError
		if types.IsCode(err, types.ErrTimeout) {
			outcome = OutcomeTimeout
		}
		c.obs.RecordConversion(c.kernel.Name(), outcome, time.Since(start))
		c.logger.Warn("conversion failed",
			zap.String("fingerprint", fp),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	a := artifact.New(fp, mesh.WithNormals(tris))
	c.obs.RecordConversion(c.kernel.Name(), OutcomeSuccess, time.Since(start))
	c.logger.Info("conversion finished",
		zap.String("fingerprint", fp),
		zap.Uint32("triangles", a.TriangleCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return a, nil
}

// Stats exposes the dedup cache counters.
func (c *Converter) Stats() dedup.Stats {
	return c.cache.Stats()
}

// asStageError guarantees err is a *types.Error tagged with stage.
func asStageError(err error, stage types.Stage, fallback types.ErrorCode) error {
	if e, ok := types.AsError(err); ok {
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	code := fallback
	if isDeadline(err) {
		code = types.ErrTimeout
	}
	return types.NewError(code, err.Error()).WithCause(err).WithStage(stage)
}
