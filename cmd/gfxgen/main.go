package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/bobot-amethyst/gfxgen"
	"github.com/lmittmann/tint"
)

var (
	cpuProfile string
	help       bool
	verify     bool
	libraries  string
	threshold  uint
)

func main() {
	t0 := time.Now()
	opt := initAndParseFlags()
	logger := newLogger(opt)
	slog.SetDefault(logger)

	if help {
		gfxgen.PrintHelp()
		return
	}
	if flag.NArg() > 0 {
		gfxgen.PrintUsage()
		os.Exit(2)
	}
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			fatal(logger, "could not create CPU profile", "file", cpuProfile, "err", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fatal(logger, "could not start CPU profile", "err", err)
		}
		defer pprof.StopCPUProfile()
	}
	if !opt.Quiet {
		fmt.Printf("gfxgen %v\n", gfxgen.Version)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if verify {
		if !runVerify(opt, logger) {
			stop()
			pprof.StopCPUProfile()
			os.Exit(1)
		}
		return
	}

	g, err := gfxgen.NewFromOptions(ctx, opt, logger)
	if err != nil {
		fatal(logger, "setup failed", "err", err)
	}
	s, err := g.Run(ctx)
	switch {
	case errors.Is(err, gfxgen.ErrConfigMissing):
		fatal(logger, "nothing to do", "root", opt.Root, "err", err)
	case err != nil:
		fatal(logger, "run failed", "err", err)
	}

	if !opt.Quiet {
		fmt.Printf("processed %d libraries, %d expressions, %d animations\n", s.Libraries, s.Expressions, s.Animations)
		fmt.Printf("generated %d descriptors and %d frames, %d failures\n", s.Descriptors, s.Frames, s.Failures)
		fmt.Printf("elapsed: %v\n", time.Since(t0))
	}
}

func runVerify(opt gfxgen.Options, logger *slog.Logger) (ok bool) {
	rr, err := gfxgen.VerifyRoot(opt.Root, opt.Libraries, logger)
	if err != nil {
		logger.Error("verify failed", "root", opt.Root, "err", err)
		return false
	}
	ok = true
	for _, r := range rr {
		if r.OK() {
			logger.Info("expression ok", "expression", r.Expression, "frames", r.Frames, "width", r.Width, "height", r.Height)
			continue
		}
		ok = false
		for _, p := range r.Problems {
			logger.Warn("expression broken", "expression", r.Expression, "problem", p)
		}
	}
	return ok
}

func newLogger(opt gfxgen.Options) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case opt.Quiet:
		level = slog.LevelWarn
	case opt.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	pprof.StopCPUProfile()
	os.Exit(1)
}

func initAndParseFlags() (opt gfxgen.Options) {
	opt = gfxgen.Defaults()
	flag.StringVar(&cpuProfile, "cpuprofile", "", "write cpu profile to `file`")
	flag.BoolVar(&help, "h", false, "help")
	flag.BoolVar(&help, "help", false, "help")
	flag.BoolVar(&verify, "verify", false, "check existing frames against their descriptors")

	flag.BoolVar(&opt.Quiet, "q", false, "quiet")
	flag.BoolVar(&opt.Quiet, "quiet", false, "quiet, only display warnings and errors")
	flag.BoolVar(&opt.Verbose, "v", false, "verbose")
	flag.BoolVar(&opt.Verbose, "verbose", false, "verbose output")
	flag.StringVar(&opt.Root, "r", opt.Root, "root")
	flag.StringVar(&opt.Root, "root", opt.Root, "graphics root `dir`")
	editor := os.Getenv("GFXGEN_EDITOR")
	flag.StringVar(&opt.Editor, "e", editor, "editor")
	flag.StringVar(&opt.Editor, "editor", editor, "editor command line, skips the search for Aseprite")
	flag.StringVar(&opt.FrameFormat, "f", opt.FrameFormat, "format")
	flag.StringVar(&opt.FrameFormat, "format", opt.FrameFormat, "intermediate frame format, png or bmp")
	flag.UintVar(&threshold, "t", 0, "threshold")
	flag.UintVar(&threshold, "threshold", 0, "pixels with a luminance above `n` are lit")
	flag.StringVar(&libraries, "l", "", "library")
	flag.StringVar(&libraries, "library", "", "only process these comma separated libraries")
	flag.DurationVar(&opt.ExportTimeout, "export-timeout", opt.ExportTimeout, "timeout per animation export")
	flag.DurationVar(&opt.MetadataTimeout, "metadata-timeout", opt.MetadataTimeout, "timeout for reading the frame timing of an animation")
	flag.Parse()

	if threshold > 0xff {
		fmt.Fprintf(os.Stderr, "threshold %d out of range 0-255\n", threshold)
		os.Exit(2)
	}
	opt.Threshold = uint8(threshold)
	for _, l := range strings.Split(libraries, ",") {
		if l = strings.TrimSpace(l); l != "" {
			opt.Libraries = append(opt.Libraries, l)
		}
	}
	return opt
}
