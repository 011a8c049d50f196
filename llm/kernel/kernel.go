package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/types"
)

// Kernel executes a CAD script into a triangle soup.
type Kernel interface {
	Name() string
	Execute(ctx context.Context, source string) ([]mesh.Triangle, error)
}

// New builds the kernel named by backend.
func New(backend string, cfg Config) (Kernel, error) {
	switch strings.ToLower(backend) {
	case "http":
		return NewHTTPKernel(cfg), nil
	case "openscad":
		return NewOpenSCADKernel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown kernel backend %q", backend)
	}
}

// Rejected wraps a kernel diagnostic as a conversion failure.
func Rejected(provider, diagnostic string, cause error) *types.Error {
	diagnostic = strings.TrimSpace(diagnostic)
	if diagnostic == "" {
		diagnostic = "kernel rejected script"
	}
	return types.NewError(types.ErrConversionFailed, diagnostic).
		WithCause(cause).
		WithStage(types.StageConvert).
		WithProvider(provider)
}

// classifyRun separates deadline and caller cancellation from real failures.
func classifyRun(ctx context.Context, err error, provider, diagnostic string) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled:
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err):
		return types.NewError(types.ErrTimeout, provider+" did not finish in time").
			WithCause(err).
			WithStage(types.StageConvert).
			WithProvider(provider)
	default:
		return Rejected(provider, diagnostic, err)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// decodeOutput validates kernel output as binary STL.
func decodeOutput(provider string, b []byte) ([]mesh.Triangle, error) {
	tris, err := mesh.Decode(b)
	if err != nil {
		return nil, Rejected(provider, "kernel produced invalid STL", err)
	}
	return tris, nil
}
