// Package gfxgen builds the expression graphics of the display firmware:
// it keeps the library and expression directories in shape, exports the
// animation frames with an external editor and packs them into the 1 bit
// per pixel, column major format the display driver reads.
package gfxgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

const Version = "0.3"

const (
	// FramesDir is the artifact directory inside every expression.
	FramesDir = "Frames"
	// DefaultRoot is the graphics root relative to the firmware project.
	DefaultRoot = "assets/graphics"
)

// AnimationExts lists the animation sources picked up in expression directories.
var AnimationExts = []string{".aseprite", ".ase"}

// Options configures a Generator. The CLI fills it once from its flags.
type Options struct {
	Root string
	// Editor overrides editor discovery with a command line, split with shell quoting.
	Editor          string
	FrameFormat     string
	Threshold       uint8
	ExportTimeout   time.Duration
	MetadataTimeout time.Duration
	// Libraries limits the run to these enabled libraries, all when empty.
	Libraries []string
	Quiet     bool
	Verbose   bool
}

// Defaults returns Options with every field set to its default.
func Defaults() Options {
	return Options{
		Root:            DefaultRoot,
		FrameFormat:     "png",
		ExportTimeout:   DefaultExportTimeout,
		MetadataTimeout: DefaultMetadataTimeout,
	}
}

// Validate rejects options the pipeline cannot work with.
func (opt Options) Validate() error {
	if opt.Root == "" {
		return fmt.Errorf("graphics root not set")
	}
	switch strings.TrimPrefix(strings.ToLower(opt.FrameFormat), ".") {
	case "", "png", "bmp":
	default:
		return fmt.Errorf("unsupported frame format %q, use png or bmp", opt.FrameFormat)
	}
	if opt.ExportTimeout < 0 || opt.MetadataTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Summary counts what a run did. Failures counts units of work (animation
// files, expressions) that were given up on, each was logged when it happened.
type Summary struct {
	Libraries   int
	Expressions int
	Descriptors int
	Animations  int
	Frames      int
	Failures    int
}

// Generator runs the pipeline over a graphics root.
type Generator struct {
	opt       Options
	exporter  Exporter
	converter *FrameSetConverter
	log       *slog.Logger
}

// New returns a Generator using exporter for the animation sources.
func New(opt Options, exporter Exporter, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		opt:       opt,
		exporter:  exporter,
		converter: &FrameSetConverter{Threshold: opt.Threshold, Logger: logger},
		log:       logger,
	}
}

// NewFromOptions looks up the editor, from opt.Editor or the known install
// locations, and returns a Generator driving it. A missing editor is not an
// error: descriptors are still maintained, only frame export is skipped.
func NewFromOptions(ctx context.Context, opt Options, logger *slog.Logger) (*Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	candidates := EditorCandidates(runtime.GOOS)
	if opt.Editor != "" {
		command, err := ParseEditorCommand(opt.Editor)
		if err != nil {
			return nil, err
		}
		candidates = [][]string{command}
	}
	command, err := FindEditor(ctx, candidates, logger)
	switch {
	case errors.Is(err, ErrEditorNotFound):
		logger.Warn("animation editor not found, frame export will be skipped")
	case err != nil:
		return nil, err
	default:
		logger.Info("found animation editor", "command", strings.Join(command, " "))
	}
	return New(opt, NewAseprite(command, opt, logger), logger), nil
}

// Run processes every enabled library. Only a missing configuration or a
// failure to create the library directories is returned as an error,
// everything else is logged and counted in the Summary.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	s := Summary{}
	cfg, err := LoadLibraryConfig(g.opt.Root, g.log)
	if err != nil {
		return s, err
	}
	for _, l := range cfg.Libraries {
		if l.Enabled {
			g.log.Info("library enabled", "library", l.Name)
		} else {
			g.log.Info("library disabled", "library", l.Name)
		}
	}
	if err = EnsureLibraryDirs(g.opt.Root, cfg, g.log); err != nil {
		return s, err
	}

	for _, name := range cfg.Enabled() {
		if len(g.opt.Libraries) > 0 && !contains(g.opt.Libraries, name) {
			g.log.Debug("library not selected", "library", name)
			continue
		}
		if err = ctx.Err(); err != nil {
			return s, err
		}
		s.Libraries++
		g.processLibrary(ctx, name, &s)
	}
	return s, nil
}

func (g *Generator) processLibrary(ctx context.Context, library string, s *Summary) {
	dir := filepath.Join(g.opt.Root, LibrariesDir, library)
	g.log.Info("processing library", "library", library)
	ee, err := os.ReadDir(dir)
	if err != nil {
		g.log.Warn("cannot read library", "library", library, "err", err)
		s.Failures++
		return
	}
	for _, e := range ee {
		if !e.IsDir() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.Expressions++
		if err := g.processExpression(ctx, filepath.Join(dir, e.Name()), s); err != nil {
			g.log.Warn("expression failed", "library", library, "expression", e.Name(), "err", err)
			s.Failures++
		}
	}
}

func (g *Generator) processExpression(ctx context.Context, dir string, s *Summary) error {
	name := filepath.Base(dir)
	log := g.log.With("expression", name)
	log.Info("processing expression")

	created, err := EnsureDescriptor(dir, name)
	if err != nil {
		return err
	}
	if created {
		s.Descriptors++
		log.Info("generated descriptor")
	} else {
		log.Debug("descriptor exists")
	}

	sources, err := animationSources(dir)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		log.Info("no animation source, skipping frame export")
		return nil
	}
	if len(sources) > 1 {
		log.Warn("several animation sources, the last one that converts wins", "sources", len(sources))
	}

	framesDir := filepath.Join(dir, FramesDir)
	for _, src := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Animations++
		if err := g.processAnimation(ctx, dir, framesDir, src, log, s); err != nil {
			log.Warn("animation failed", "source", filepath.Base(src), "err", err)
			s.Failures++
		}
	}
	return nil
}

func (g *Generator) processAnimation(ctx context.Context, dir, framesDir, src string, log *slog.Logger, s *Summary) error {
	log = log.With("source", filepath.Base(src))
	// the descriptor must be able to take the new dimensions before the old
	// artifacts are replaced
	if _, _, err := loadDescriptorFile(dir); err != nil {
		return fmt.Errorf("descriptor unusable, frames left as they are: %w", err)
	}
	fps := g.exporter.FPS(ctx, src)

	frames, err := g.exporter.Export(ctx, src, framesDir)
	if errors.Is(err, ErrEditorNotFound) {
		log.Info("no animation editor, skipping frame export")
		return nil
	}
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		log.Warn("editor exported no frames")
		return nil
	}

	log.Info("converting frames", "frames", len(frames))
	res, err := g.converter.Convert(frames, framesDir)
	if err != nil {
		return err
	}
	if res.Count == 0 {
		return nil
	}

	if err = UpdateDimensions(dir, res.Width, res.Height, &fps); err != nil {
		if rerr := os.RemoveAll(framesDir); rerr != nil {
			log.Warn("could not remove frames", "dir", framesDir, "err", rerr)
		}
		return fmt.Errorf("frames removed, descriptor not updated: %w", err)
	}
	s.Frames += res.Count
	log.Info("converted frames", "frames", res.Count, "width", res.Width, "height", res.Height, "fps", FormatFPS(fps))
	return nil
}

// animationSources returns the animation files in dir sorted by name.
func animationSources(dir string) ([]string, error) {
	ee, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("os.ReadDir %q failed: %w", dir, err)
	}
	var ff []string
	for _, e := range ee {
		if e.IsDir() {
			continue
		}
		if contains(AnimationExts, strings.ToLower(filepath.Ext(e.Name()))) {
			ff = append(ff, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(ff)
	return ff, nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
