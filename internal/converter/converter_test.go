package converter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"themerizr/internal/raster"
)

func writeSVG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	doc := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
		`<circle cx="%d" cy="%d" r="%d" fill="#cc3333"/></svg>`, w, h, w, h, w/2, h/2, min(w, h)/2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func writePNG(t *testing.T, dir, name string, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.SetNRGBA(x, h/2, color.NRGBA{R: 33, G: 150, B: 243, A: 255})
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newBatch(t *testing.T) (*Batch, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return &Batch{
		SourceDir: t.TempDir(),
		TargetDir: t.TempDir(),
		MaxWidth:  256,
		MaxHeight: 64,
		Workers:   4,
		Log:       logger,
	}, hook
}

func byOutcome(results []Result) (ok, failed []Result) {
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	return ok, failed
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "Load_Balancer.png", OutputName("Load_Balancer.svg"))
	assert.Equal(t, "icon.v2.png", OutputName("icon.v2.SVG"))
	assert.Equal(t, "svg.png", OutputName("svg.svg"))
}

func TestConvertMixedBatch(t *testing.T) {
	b, hook := newBatch(t)
	writeSVG(t, b.SourceDir, "a.svg", 300, 100)
	require.NoError(t, os.WriteFile(filepath.Join(b.SourceDir, "broken.svg"), []byte("not an svg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.SourceDir, "flat.svg"),
		[]byte(`<svg xmlns="http://www.w3.org/2000/svg" width="0" height="0"></svg>`), 0o644))

	results := b.Convert(context.Background(), []string{"a.svg", "broken.svg", "flat.svg", "missing.svg"})
	require.Len(t, results, 4)

	ok, failed := byOutcome(results)
	require.Len(t, ok, 1)
	assert.Equal(t, Result{Source: "a.svg", Output: "a.png", Kind: KindConverted, Width: 192, Height: 64}, ok[0])
	assert.FileExists(t, filepath.Join(b.TargetDir, "a.png"))

	require.Len(t, failed, 3)
	for _, r := range failed {
		assert.Error(t, r.Err)
		assert.NoFileExists(t, filepath.Join(b.TargetDir, r.Output))
	}

	var infos, errs int
	for _, e := range hook.AllEntries() {
		switch e.Level {
		case logrus.InfoLevel:
			infos++
		case logrus.ErrorLevel:
			errs++
			assert.Contains(t, e.Data, "error")
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 3, errs)
}

func TestConvertZeroSizeIsDegenerate(t *testing.T) {
	b, _ := newBatch(t)
	require.NoError(t, os.WriteFile(filepath.Join(b.SourceDir, "flat.svg"),
		[]byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="0"></svg>`), 0o644))

	results := b.Convert(context.Background(), []string{"flat.svg"})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, raster.ErrDegenerate)
	assert.Equal(t, "flat.svg", results[0].Source)
}

func TestConvertRunsEveryTask(t *testing.T) {
	b, _ := newBatch(t)
	b.Workers = 3
	var names []string
	for i := 0; i < 24; i++ {
		name := fmt.Sprintf("icon_%02d.svg", i)
		writeSVG(t, b.SourceDir, name, 10+i*7, 40)
		names = append(names, name)
	}

	results := b.Convert(context.Background(), names)
	require.Len(t, results, len(names))

	var got []string
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.LessOrEqual(t, r.Width, 256)
		assert.LessOrEqual(t, r.Height, 64)
		got = append(got, r.Source)
	}
	sort.Strings(got)
	assert.Equal(t, names, got)
}

func TestConvertEmpty(t *testing.T) {
	b, _ := newBatch(t)
	assert.Empty(t, b.Convert(context.Background(), nil))
}

func TestCopyThrough(t *testing.T) {
	b, hook := newBatch(t)
	want := writePNG(t, b.SourceDir, "b.png", 40, 20)
	require.NoError(t, os.WriteFile(filepath.Join(b.SourceDir, "fake.png"), []byte("plain text"), 0o644))

	results := b.CopyThrough([]string{"b.png", "fake.png", "gone.png"})
	require.Len(t, results, 3)

	assert.Equal(t, Result{Source: "b.png", Output: "b.png", Kind: KindCopied, Width: 40, Height: 20}, results[0])
	got, err := os.ReadFile(filepath.Join(b.TargetDir, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "not a raster image")
	assert.NoFileExists(t, filepath.Join(b.TargetDir, "fake.png"))

	assert.Error(t, results[2].Err)
	assert.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestCopyThroughSameDirectory(t *testing.T) {
	b, _ := newBatch(t)
	b.TargetDir = b.SourceDir
	want := writePNG(t, b.SourceDir, "b.png", 8, 8)

	results := b.CopyThrough([]string{"b.png"})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	got, err := os.ReadFile(filepath.Join(b.SourceDir, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConvertCancelledBeforeStart(t *testing.T) {
	b, hook := newBatch(t)
	writeSVG(t, b.SourceDir, "a.svg", 30, 10)
	writeSVG(t, b.SourceDir, "b.svg", 30, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := b.Convert(ctx, []string{"a.svg", "b.svg"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.NoFileExists(t, filepath.Join(b.TargetDir, r.Output))
	}
	assert.Len(t, hook.AllEntries(), 2)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	want := writePNG(t, dir, "in.png", 5, 5)

	dst := filepath.Join(dir, "out.png")
	require.NoError(t, copyFile(filepath.Join(dir, "in.png"), dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, copyFile(filepath.Join(dir, "in.png"), filepath.Join(dir, "missing", "out.png")))
	assert.Error(t, copyFile(filepath.Join(dir, "gone.png"), dst))
}
