package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/viewer"
)

// =============================================================================
// ✏️ generate 命令
// =============================================================================

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	outPath := fs.String("out", "", "Write the converted mesh to this STL file")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return errors.New("generate: prompt is required")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := cliLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	st, err := buildStack(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer st.close()

	res, err := st.pipeline.Run(ctx, script.PromptRequest{Text: prompt})
	if res != nil && res.Script != nil {
		fmt.Fprintln(out, res.Script.Source)
	}
	if err != nil {
		return err
	}

	if res.Artifact == nil {
		if *outPath != "" {
			return errNoKernel
		}
		return nil
	}
	if *outPath == "" {
		logger.Info("mesh converted, pass --out to save it",
			zap.String("fingerprint", res.Artifact.Fingerprint),
			zap.Uint32("triangles", res.Artifact.TriangleCount),
		)
		return nil
	}
	if err := os.WriteFile(*outPath, res.Artifact.Bytes, 0o644); err != nil {
		return fmt.Errorf("write mesh: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d triangles)\n", *outPath, res.Artifact.TriangleCount)
	return nil
}

// =============================================================================
// 🔁 convert 命令
// =============================================================================

func runConvert(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	outDir := fs.String("out-dir", "", "Directory for STL files (default: next to each script)")
	parallel := fs.Int("parallel", 0, "Concurrent conversions (default: pipeline.workers)")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return errors.New("convert: at least one script file is required")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := cliLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	st, err := buildStack(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer st.close()
	if !st.pipeline.CanConvert() {
		return errNoKernel
	}

	limit := *parallel
	if limit <= 0 {
		limit = cfg.Pipeline.Workers
	}
	return convertFiles(ctx, st, files, *outDir, limit, out)
}

// convertFiles 并发转换；同一脚本内容只会执行一次内核
func convertFiles(ctx context.Context, st *stack, files []string, outDir string, limit int, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var failed atomic.Int32
	results := make([]string, len(files))
	for i, path := range files {
		g.Go(func() error {
			src, err := os.ReadFile(path)
			if err != nil {
				failed.Add(1)
				results[i] = fmt.Sprintf("FAIL %s: %v", path, err)
				return nil
			}
			a, err := st.pipeline.ConvertAndPublish(gctx, string(src))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Add(1)
				results[i] = fmt.Sprintf("FAIL %s: %v", path, err)
				return nil
			}
			dst := stlPath(path, outDir)
			if err := os.WriteFile(dst, a.Bytes, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dst, err)
			}
			results[i] = fmt.Sprintf("OK   %s -> %s (%d triangles)", path, dst, a.TriangleCount)
			return nil
		})
	}
	err := g.Wait()
	for _, line := range results {
		if line != "" {
			fmt.Fprintln(out, line)
		}
	}
	if err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d conversions failed", n, len(files))
	}
	return nil
}

func stlPath(scriptPath, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath)) + ".stl"
	if outDir == "" {
		return filepath.Join(filepath.Dir(scriptPath), base)
	}
	return filepath.Join(outDir, base)
}

// =============================================================================
// 👁️ view 命令
// =============================================================================

func runView(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	addr := fs.String("addr", viewer.DefaultClientConfig().BaseURL, "Server address")
	prompt := fs.String("prompt", "", "Generate a model from this prompt")
	scriptFile := fs.String("script", "", "Convert this script file instead of generating")
	key := fs.String("key", "", "Load a published artifact by fingerprint")
	follow := fs.Bool("follow", false, "Reload whenever the server publishes a new artifact")
	fps := fs.Int("fps", viewer.DefaultRenderConfig().FPS, "Render loop frame rate")
	duration := fs.Duration("duration", 0, "Stop after this long (0: until interrupted, or after loading when not following)")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := cliLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	frames := newFrameLogger(out)
	out = frames
	render := viewer.NewRenderSession(nil, frames, viewer.RenderConfig{FPS: *fps}, logger)
	if err := render.Start(ctx); err != nil {
		return err
	}
	defer render.Stop()

	cfg := viewer.DefaultClientConfig()
	cfg.BaseURL = *addr
	v := viewer.New(viewer.NewClient(cfg, viewer.WithClientLogger(logger)), render, logger)

	var err error
	switch {
	case *scriptFile != "":
		var src []byte
		src, err = os.ReadFile(*scriptFile)
		if err == nil {
			err = v.SubmitScript(ctx, string(src))
		}
	case *prompt != "":
		err = v.Submit(ctx, *prompt)
	case *key != "" || !*follow:
		err = v.Load(ctx, *key)
	}
	reportSnapshot(out, v.Session().Snapshot())
	if err != nil && !*follow {
		return err
	}

	if *follow {
		err = v.Follow(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	if *duration > 0 {
		<-ctx.Done()
	}
	return nil
}

func reportSnapshot(out io.Writer, snap viewer.Snapshot) {
	switch {
	case snap.Geometry != nil:
		fmt.Fprintf(out, "%s: %s (%d triangles, bounds %v..%v)\n",
			snap.State, snap.Geometry.Fingerprint, snap.Geometry.TriangleCount,
			snap.Geometry.Bounds.Min, snap.Geometry.Bounds.Max)
	case snap.LastError != nil:
		fmt.Fprintf(out, "%s: %s\n", snap.State, snap.LastError.Message())
	default:
		fmt.Fprintf(out, "%s\n", snap.State)
	}
}

// frameLogger 是无窗口环境下的 FrameSink：几何变化时立即输出，
// 相机移动时最多每秒输出一行
type frameLogger struct {
	mu       sync.Mutex
	out      io.Writer
	last     *viewer.Geometry
	lastLine time.Time
}

func newFrameLogger(out io.Writer) *frameLogger {
	return &frameLogger{out: out}
}

func (f *frameLogger) DrawFrame(_ context.Context, fr viewer.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := fr.Geometry != f.last
	if !changed && (!fr.Moved || fr.At.Sub(f.lastLine) < time.Second) {
		return nil
	}
	f.last = fr.Geometry
	f.lastLine = fr.At
	p := fr.Camera.Position
	_, err := fmt.Fprintf(f.out, "frame %d %s camera=(%.1f, %.1f, %.1f) triangles=%d\n",
		fr.Seq, fr.At.Format(time.TimeOnly), p[0], p[1], p[2], fr.Geometry.TriangleCount)
	return err
}

// Write 与 DrawFrame 共用锁，命令输出与帧日志不会交错
func (f *frameLogger) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(b)
}
