package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"themerizr/internal/config"
	"themerizr/internal/converter"
	"themerizr/internal/manifest"
)

// ErrSourceDir is returned when the source directory is missing or is not a directory.
var ErrSourceDir = errors.New("invalid source directory")

// A rebuild starts once the source has been quiet for watchDebounce, and
// no later than watchMaxWait after the first pending change.
const (
	watchDebounce = 250 * time.Millisecond
	watchMaxWait  = time.Second
)

var rasterExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// ThemeSource is what the preview server needs from a controller.
type ThemeSource interface {
	LastSummary() *Summary
	Subscribe() (<-chan *Summary, func())
	TargetDir() string
}

// Summary describes one completed run.
type Summary struct {
	Source    string
	Target    string
	Manifest  string
	Copied    []converter.Result
	Converted []converter.Result
	Failed    []converter.Result
	// Skipped lists raster sources shadowed by a converted file of the same name.
	Skipped    []string
	Elements   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Results returns every per-file outcome: copies, conversions, then failures.
func (s *Summary) Results() []converter.Result {
	out := make([]converter.Result, 0, len(s.Copied)+len(s.Converted)+len(s.Failed))
	out = append(out, s.Copied...)
	out = append(out, s.Converted...)
	return append(out, s.Failed...)
}

type Controller struct {
	cfg *config.Config
	log log.FieldLogger

	runMu sync.Mutex // one run at a time

	mu      sync.RWMutex
	last    *Summary
	outputs map[string]bool

	subMu       sync.Mutex
	subscribers map[chan *Summary]struct{}
}

func New(cfg *config.Config, logger log.FieldLogger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		cfg:         cfg,
		log:         logger,
		outputs:     make(map[string]bool),
		subscribers: make(map[chan *Summary]struct{}),
	}
}

// TargetDir is the directory the theme is written to.
func (c *Controller) TargetDir() string { return c.cfg.Target }

// LastSummary returns the most recent completed run, or nil.
func (c *Controller) LastSummary() *Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Subscribe returns a channel receiving every completed run and a function
// that cancels the subscription. Slow subscribers miss runs rather than
// blocking the controller.
func (c *Controller) Subscribe() (<-chan *Summary, func()) {
	ch := make(chan *Summary, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(s *Summary) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Run converts the source directory into the target directory and writes
// the theme manifest. Per-file failures are reported in the Summary; only
// directory preconditions and the manifest write return an error.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()

	cfg := c.cfg
	info, err := os.Stat(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceDir, cfg.Source)
	}
	if err := os.MkdirAll(cfg.Target, 0755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	vectors, rasters, err := listSources(cfg.Source)
	if err != nil {
		return nil, err
	}

	s := &Summary{Source: cfg.Source, Target: cfg.Target, StartedAt: time.Now()}

	produced := make(map[string]bool, len(vectors))
	for _, v := range vectors {
		produced[converter.OutputName(v)] = true
	}
	c.mu.RLock()
	previous := c.outputs
	c.mu.RUnlock()
	kept := rasters[:0:0]
	for _, r := range rasters {
		if produced[r] {
			entry := c.log.WithField("file", r)
			if previous[r] && sameDir(cfg.Source, cfg.Target) {
				entry.Debug("Skipping output of the previous run")
			} else {
				entry.Warn("Skipping raster file shadowed by a converted SVG")
			}
			s.Skipped = append(s.Skipped, r)
			continue
		}
		kept = append(kept, r)
	}

	batch := &converter.Batch{
		SourceDir: cfg.Source,
		TargetDir: cfg.Target,
		MaxWidth:  cfg.Width,
		MaxHeight: cfg.Height,
		Workers:   cfg.Workers,
		Strict:    cfg.Strict,
		Log:       c.log,
	}
	copied := batch.CopyThrough(kept)
	converted := batch.Convert(ctx, vectors)

	s.Copied, s.Failed = split(copied, s.Failed)
	s.Converted, s.Failed = split(converted, s.Failed)
	if cfg.Stable {
		sortResults(s.Copied)
		sortResults(s.Converted)
	}
	for _, r := range s.Copied {
		s.Elements = append(s.Elements, r.Output)
	}
	for _, r := range s.Converted {
		s.Elements = append(s.Elements, r.Output)
	}

	theme := manifest.Build(cfg.Name, cfg.Description, cfg.Prefix, s.Elements)
	s.Manifest, err = manifest.Write(cfg.Target, theme)
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", manifest.FileName, err)
	}
	s.FinishedAt = time.Now()

	outputs := make(map[string]bool, len(s.Elements)+1)
	outputs[manifest.FileName] = true
	for _, e := range s.Elements {
		outputs[e] = true
	}

	c.mu.Lock()
	c.last = s
	c.outputs = outputs
	c.mu.Unlock()

	c.log.WithFields(log.Fields{
		"copied":    len(s.Copied),
		"converted": len(s.Converted),
		"failed":    len(s.Failed),
		"elapsed":   s.FinishedAt.Sub(s.StartedAt).String(),
	}).Debug("run finished")
	c.publish(s)
	return s, nil
}

// Watch reruns Run whenever a source image changes until ctx is done.
func (c *Controller) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(c.cfg.Source); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.cfg.Source, err)
	}
	c.log.WithField("dir", c.cfg.Source).Info("Watching for changes")

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !c.relevant(ev) {
				continue
			}
			c.log.WithFields(log.Fields{"file": filepath.Base(ev.Name), "op": ev.Op.String()}).Debug("source changed")
			now := time.Now()
			if pending.IsZero() {
				pending = now
			}
			timer.Reset(min(watchDebounce, max(0, watchMaxWait-now.Sub(pending))))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.WithError(err).Warn("watcher error")
		case <-timer.C:
			pending = time.Time{}
			if _, err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.WithError(err).Error("rebuild failed")
			}
		}
	}
}

// relevant filters watcher events down to source images, ignoring files
// this controller wrote itself when source and target coincide.
func (c *Controller) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Base(ev.Name)
	if !isVector(name) && !isRaster(name) {
		return false
	}
	if sameDir(c.cfg.Source, c.cfg.Target) {
		c.mu.RLock()
		own := c.outputs[name]
		c.mu.RUnlock()
		if own && !isVector(name) {
			return false
		}
	}
	return true
}

// listSources returns the vector and raster files directly inside dir,
// sorted by name. Subdirectories are not visited.
func listSources(dir string) (vectors, rasters []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSourceDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			fi, err := os.Stat(filepath.Join(dir, e.Name()))
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		switch name := e.Name(); {
		case isVector(name):
			vectors = append(vectors, name)
		case isRaster(name):
			rasters = append(rasters, name)
		}
	}
	return vectors, rasters, nil
}

func isVector(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".svg")
}

func isRaster(name string) bool {
	return rasterExts[strings.ToLower(filepath.Ext(name))]
}

func sameDir(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func split(results []converter.Result, failed []converter.Result) ([]converter.Result, []converter.Result) {
	var ok []converter.Result
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	return ok, failed
}

func sortResults(rs []converter.Result) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Output < rs[j].Output })
}
