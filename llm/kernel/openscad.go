package kernel

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/BaSui01/cadflow/mesh"
)

// OpenSCADKernel renders scripts with the openscad CLI in a scratch directory.
type OpenSCADKernel struct {
	cfg Config
}

// NewOpenSCADKernel creates a subprocess kernel.
func NewOpenSCADKernel(cfg Config) *OpenSCADKernel {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OpenSCADKernel{cfg: cfg}
}

func (k *OpenSCADKernel) Name() string { return "openscad" }

// Execute runs `openscad -o out.stl in.scad` and decodes the binary STL.
func (k *OpenSCADKernel) Execute(ctx context.Context, source string) ([]mesh.Triangle, error) {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp(k.cfg.WorkDir, "cadflow-openscad-*")
	if err != nil {
		return nil, Rejected(k.Name(), "cannot create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.scad")
	out := filepath.Join(dir, "out.stl")
	if err := os.WriteFile(in, []byte(source), 0o600); err != nil {
		return nil, Rejected(k.Name(), "cannot write script", err)
	}

	args := append([]string{}, k.cfg.Args...)
	args = append(args, "--export-format", "binstl", "-o", out, in)
	cmd := exec.CommandContext(ctx, k.cfg.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), k.cfg.Env...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyRun(ctx, err, k.Name(), stderr.String())
	}

	b, err := os.ReadFile(out)
	if err != nil {
		return nil, Rejected(k.Name(), "openscad produced no output: "+stderr.String(), err)
	}
	return decodeOutput(k.Name(), b)
}
