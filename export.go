package gfxgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultFPS is used whenever the frame timing cannot be read.
	DefaultFPS = 20

	DefaultExportTimeout   = 30 * time.Second
	DefaultMetadataTimeout = 10 * time.Second

	// TransientDir is created inside an expression's frames directory for the
	// duration of one export.
	TransientDir = "_temp"

	defaultFrameDurationMS = 50
)

// An Exporter turns an animation source into an ordered list of frame images.
type Exporter interface {
	// Export returns the frame images of src in temporal order, stored in a
	// transient directory below framesDir.
	Export(ctx context.Context, src, framesDir string) ([]string, error)
	// FPS returns the animation rate of src, DefaultFPS if it is unknown.
	FPS(ctx context.Context, src string) float64
}

// Aseprite drives the Aseprite editor in batch mode.
// A nil Command means no editor was found: Export yields no frames and FPS
// returns DefaultFPS.
type Aseprite struct {
	Command         []string
	FrameFormat     string
	ExportTimeout   time.Duration
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// NewAseprite returns an Aseprite using command and the timeouts and frame format from opt.
func NewAseprite(command []string, opt Options, logger *slog.Logger) *Aseprite {
	return &Aseprite{
		Command:         command,
		FrameFormat:     opt.FrameFormat,
		ExportTimeout:   opt.ExportTimeout,
		MetadataTimeout: opt.MetadataTimeout,
		Logger:          logger,
	}
}

// Available reports whether an editor command is configured.
func (a *Aseprite) Available() bool {
	return a != nil && len(a.Command) > 0
}

// Export runs the editor against src and returns the canonicalized frames.
// On failure the transient directory is removed and no frames are returned.
func (a *Aseprite) Export(ctx context.Context, src, framesDir string) ([]string, error) {
	if !a.Available() {
		return nil, ErrEditorNotFound
	}
	tmp := filepath.Join(framesDir, TransientDir)
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("os.RemoveAll %q failed: %w", tmp, err)
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll %q failed: %w", tmp, err)
	}

	ext := a.frameFormat()
	pattern := filepath.Join(tmp, "Frame_{frame}."+ext)
	timeout := orDefault(a.ExportTimeout, DefaultExportTimeout)
	if err := a.run(ctx, timeout, "-b", src, "--save-as", pattern); err != nil {
		a.discard(tmp)
		return nil, fmt.Errorf("export %q: %w", filepath.Base(src), err)
	}

	frames, err := CanonicalizeFrames(tmp, ext, a.logger())
	if err != nil || len(frames) == 0 {
		a.discard(tmp)
		return nil, err
	}
	a.logger().Debug("exported frames", "source", filepath.Base(src), "frames", len(frames))
	return frames, nil
}

// FPS asks the editor for the first frame's duration and converts it to a rate.
func (a *Aseprite) FPS(ctx context.Context, src string) float64 {
	if !a.Available() {
		return DefaultFPS
	}
	fps, err := a.frameRate(ctx, src)
	if err != nil {
		a.logger().Warn("could not read frame timing, using default", "source", filepath.Base(src), "fps", DefaultFPS, "err", err)
		return DefaultFPS
	}
	a.logger().Debug("detected frame rate", "source", filepath.Base(src), "fps", FormatFPS(fps))
	return fps
}

func (a *Aseprite) frameRate(ctx context.Context, src string) (float64, error) {
	f, err := os.CreateTemp("", "gfxgen-*.json")
	if err != nil {
		return 0, fmt.Errorf("os.CreateTemp failed: %w", err)
	}
	path := f.Name()
	f.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			a.logger().Warn("could not delete timing data", "file", path, "err", err)
		}
	}()

	timeout := orDefault(a.MetadataTimeout, DefaultMetadataTimeout)
	if err = a.run(ctx, timeout, "-b", src, "--list-tags", "--data", path, "--format", "json-array"); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("os.ReadFile %q failed: %w", path, err)
	}
	return FrameRate(data)
}

// run executes the editor with args under timeout, mapping the outcome to
// ErrExportTimeout or ErrExportFailed with the tool's output attached.
func (a *Aseprite) run(ctx context.Context, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmdArgs := append(append([]string{}, a.Command[1:]...), args...)
	cmd := exec.CommandContext(ctx, a.Command[0], cmdArgs...)
	cmd.WaitDelay = time.Second
	a.logger().Debug("running editor", "command", cmd.String())

	out, err := cmd.CombinedOutput()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %v", ErrExportTimeout, timeout)
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return fmt.Errorf("%w: %v: %s", ErrExportFailed, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// discard removes a transient directory, failures are only logged.
func (a *Aseprite) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		a.logger().Warn("could not delete transient directory", "dir", dir, "err", err)
	}
}

func (a *Aseprite) frameFormat() string {
	if a.FrameFormat == "" {
		return "png"
	}
	return strings.TrimPrefix(strings.ToLower(a.FrameFormat), ".")
}

func (a *Aseprite) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// FrameRate returns the rate of the first frame in editor sheet data
// exported with --format json-array. A frame without duration counts as 50 ms.
func FrameRate(data []byte) (float64, error) {
	var sheet struct {
		Frames []struct {
			Duration *float64 `json:"duration"`
		} `json:"frames"`
	}
	if err := json.Unmarshal(data, &sheet); err != nil {
		return 0, fmt.Errorf("json.Unmarshal failed: %w", err)
	}
	if len(sheet.Frames) == 0 {
		return 0, fmt.Errorf("no frames in timing data")
	}
	duration := float64(defaultFrameDurationMS)
	if d := sheet.Frames[0].Duration; d != nil {
		duration = *d
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid frame duration %v ms", duration)
	}
	return 1000 / duration, nil
}

var frameIndexRe = regexp.MustCompile(`^Frame_(\d+)$`)

type indexedFrame struct {
	index int
	path  string
}

// CanonicalizeFrames finds the Frame_<n>.<ext> files in dir, orders them by
// the number n and renames them to Frame_00.<ext>, Frame_01.<ext>, ... without
// gaps. The editor may start counting anywhere and skip numbers, the returned
// paths are in temporal order either way.
// Two files carrying the same number, like Frame_5 and Frame_05, are ErrDuplicateFrame.
func CanonicalizeFrames(dir, ext string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	matches, err := filepath.Glob(filepath.Join(dir, "Frame_*."+ext))
	if err != nil {
		return nil, fmt.Errorf("filepath.Glob in %q failed: %w", dir, err)
	}

	seen := map[int]string{}
	var ff []indexedFrame
	for _, m := range matches {
		name := filepath.Base(m)
		sm := frameIndexRe.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
		if sm == nil {
			logger.Debug("ignoring file without frame index", "file", name)
			continue
		}
		i, err := strconv.Atoi(sm[1])
		if err != nil {
			logger.Warn("ignoring file with unusable frame index", "file", name, "err", err)
			continue
		}
		if prev, ok := seen[i]; ok {
			return nil, fmt.Errorf("%w %d: %q and %q", ErrDuplicateFrame, i, prev, name)
		}
		seen[i] = name
		ff = append(ff, indexedFrame{index: i, path: m})
	}
	if len(ff) == 0 {
		return nil, nil
	}
	sort.Slice(ff, func(i, j int) bool { return ff[i].index < ff[j].index })
	if span := ff[len(ff)-1].index - ff[0].index + 1; span != len(ff) || ff[0].index != 0 {
		logger.Debug("renumbering frames", "first", ff[0].index, "last", ff[len(ff)-1].index, "frames", len(ff))
	}

	digits := len(strconv.Itoa(len(ff) - 1))
	if digits < 2 {
		digits = 2
	}
	out := make([]string, 0, len(ff))
	// targets never exceed their source index, so ascending renames cannot
	// overwrite a frame that is still to be moved
	for i, f := range ff {
		target := filepath.Join(dir, fmt.Sprintf("Frame_%0*d.%s", digits, i, ext))
		if target != f.path {
			if _, err := os.Stat(target); err == nil {
				return nil, fmt.Errorf("cannot rename %q, %q exists", filepath.Base(f.path), filepath.Base(target))
			}
			if err := os.Rename(f.path, target); err != nil {
				return nil, fmt.Errorf("os.Rename %q failed: %w", f.path, err)
			}
		}
		out = append(out, target)
	}
	return out, nil
}
