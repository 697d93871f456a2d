// Package converter turns a directory's icons into theme-ready PNG files.
//
// Vector sources are rendered concurrently on a bounded pool; raster
// sources are copied through unchanged. Every file yields exactly one
// Result and a failure never stops the rest of the batch.
package converter

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"themerizr/internal/raster"
)

type Kind string

const (
	KindConverted Kind = "converted"
	KindCopied    Kind = "copied"
)

// Result is the outcome for one source file. Err is nil on success.
type Result struct {
	Source string
	Output string
	Kind   Kind
	Width  int
	Height int
	Err    error
}

// OK reports whether the file made it into the target directory.
func (r Result) OK() bool { return r.Err == nil }

// Batch converts and copies files from SourceDir into TargetDir.
type Batch struct {
	SourceDir string
	TargetDir string
	MaxWidth  int
	MaxHeight int
	Workers   int
	Strict    bool
	Log       log.FieldLogger
}

// OutputName is the PNG filename produced for a vector source.
func OutputName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
}

// Convert renders every named SVG and blocks until all of them finish.
// Results are returned in completion order. Once ctx is done, files not
// yet started fail with the context error; running renders complete.
func (b *Batch) Convert(ctx context.Context, names []string) []Result {
	results := make(chan Result, len(names))

	var g errgroup.Group
	g.SetLimit(max(1, b.Workers))
	go func() {
		for _, name := range names {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					results <- Result{Source: name, Output: OutputName(name), Kind: KindConverted, Err: err}
					return nil
				}
				results <- b.convertOne(name)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(names))
	for r := range results {
		if r.OK() {
			b.logger().WithFields(log.Fields{"file": r.Source, "output": r.Output, "width": r.Width, "height": r.Height}).
				Infof("File %s converted successfully.", r.Output)
		} else {
			b.logger().WithFields(log.Fields{"file": r.Source, "error": r.Err.Error()}).
				Errorf("File %s encountered an error during conversion", r.Output)
		}
		out = append(out, r)
	}
	return out
}

func (b *Batch) convertOne(name string) (res Result) {
	res = Result{Source: name, Output: OutputName(name), Kind: KindConverted}
	defer func() {
		// oksvg panics on some malformed path data
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("renderer panic: %v", p)
			_ = os.Remove(filepath.Join(b.TargetDir, res.Output))
		}
	}()
	size, err := raster.ConvertFile(
		filepath.Join(b.SourceDir, name),
		filepath.Join(b.TargetDir, res.Output),
		b.MaxWidth, b.MaxHeight,
		raster.Options{Strict: b.Strict},
	)
	if err != nil {
		res.Err = err
		return res
	}
	res.Width, res.Height = size.X, size.Y
	return res
}

// CopyThrough copies raster files byte for byte under the same name.
// Files that cannot be copied, or whose content is not a raster image,
// are reported as failures.
func (b *Batch) CopyThrough(names []string) []Result {
	out := make([]Result, 0, len(names))
	for _, name := range names {
		r := b.copyOne(name)
		if r.OK() {
			b.logger().WithFields(log.Fields{"file": r.Source, "width": r.Width, "height": r.Height}).
				Infof("File %s copied successfully.", r.Output)
		} else {
			b.logger().WithFields(log.Fields{"file": r.Source, "error": r.Err.Error()}).
				Errorf("File %s could not be copied", r.Source)
		}
		out = append(out, r)
	}
	return out
}

var rasterTypes = []string{"image/png", "image/jpeg", "image/gif"}

func (b *Batch) copyOne(name string) Result {
	res := Result{Source: name, Output: name, Kind: KindCopied}
	src := filepath.Join(b.SourceDir, name)
	dst := filepath.Join(b.TargetDir, name)

	mt, err := mimetype.DetectFile(src)
	if err != nil {
		res.Err = err
		return res
	}
	if !mimetype.EqualsAny(mt.String(), rasterTypes...) {
		res.Err = fmt.Errorf("content is %s, not a raster image", mt.String())
		return res
	}
	cfg, err := decodeConfig(src)
	if err != nil {
		res.Err = fmt.Errorf("failed to read image header: %w", err)
		return res
	}
	res.Width, res.Height = cfg.Width, cfg.Height

	same, err := sameFile(src, dst)
	if err != nil {
		res.Err = err
		return res
	}
	if same {
		return res
	}
	if err := copyFile(src, dst); err != nil {
		res.Err = err
	}
	return res
}

func (b *Batch) logger() log.FieldLogger {
	if b.Log == nil {
		return log.StandardLogger()
	}
	return b.Log
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// sameFile reports whether dst already is src, as when the source and
// target directories coincide.
func sameFile(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(si, di), nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
