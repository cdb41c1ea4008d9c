package gfxgen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// A VerifyReport lists what the firmware would trip over when loading the
// frames of one expression.
type VerifyReport struct {
	Expression string
	Frames     int
	Width      int
	Height     int
	Problems   []string
}

// OK reports whether no problems were found.
func (r VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *VerifyReport) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify checks the artifacts of the expression in dir against its
// descriptor: they have to be numbered from 0 without gaps, share one name
// width and each hold exactly PackedSize(Width, Height) bytes.
// An expression without artifacts is fine. The error is only non-nil when
// the descriptor or the frames directory cannot be read.
func Verify(dir string) (VerifyReport, error) {
	r := VerifyReport{Expression: filepath.Base(dir)}
	d, err := LoadDescriptor(dir)
	if err != nil {
		return r, err
	}
	r.Width, r.Height = d.Width, d.Height
	if err = d.Validate(); err != nil {
		r.problemf("descriptor: %v", err)
	}

	framesDir := filepath.Join(dir, FramesDir)
	ee, err := os.ReadDir(framesDir)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("os.ReadDir %q failed: %w", framesDir, err)
	}

	sizes := map[int]int64{}
	names := map[int]string{}
	for _, e := range ee {
		name := e.Name()
		if e.IsDir() {
			r.problemf("unexpected directory %q", name)
			continue
		}
		if filepath.Ext(name) != ArtifactExt {
			r.problemf("unexpected file %q", name)
			continue
		}
		sm := frameIndexRe.FindStringSubmatch(strings.TrimSuffix(name, ArtifactExt))
		if sm == nil {
			r.problemf("unexpected file %q", name)
			continue
		}
		i, err := strconv.Atoi(sm[1])
		if err != nil {
			r.problemf("unusable frame index in %q", name)
			continue
		}
		if prev, ok := names[i]; ok {
			r.problemf("%q and %q carry the same index", prev, name)
			continue
		}
		info, err := e.Info()
		if err != nil {
			return r, fmt.Errorf("Info %q failed: %w", name, err)
		}
		names[i] = name
		sizes[i] = info.Size()
	}
	if len(names) == 0 {
		return r, nil
	}
	r.Frames = len(names)
	if d.Width <= 0 || d.Height <= 0 {
		r.problemf("%d frames but descriptor has no dimensions", r.Frames)
		return r, nil
	}

	indexes := make([]int, 0, len(names))
	for i := range names {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	want := int64(PackedSize(d.Width, d.Height))
	for n, i := range indexes {
		if i != n {
			r.problemf("frame %d missing", n)
			break
		}
	}
	for _, i := range indexes {
		if expected := ArtifactName(i, r.Frames); names[i] != expected && i < r.Frames {
			r.problemf("%q should be named %q", names[i], expected)
		}
		if sizes[i] != want {
			r.problemf("%q is %d bytes, %dx%d needs %d", names[i], sizes[i], d.Width, d.Height, want)
		}
	}
	return r, nil
}

// VerifyRoot runs Verify over every expression of the enabled libraries
// below root, or of the named ones when libraries is not empty.
func VerifyRoot(root string, libraries []string, logger *slog.Logger) ([]VerifyReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadLibraryConfig(root, logger)
	if err != nil {
		return nil, err
	}
	var rr []VerifyReport
	for _, name := range cfg.Enabled() {
		if len(libraries) > 0 && !contains(libraries, name) {
			continue
		}
		dir := filepath.Join(root, LibrariesDir, name)
		ee, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("cannot read library", "library", name, "err", err)
			continue
		}
		for _, e := range ee {
			if !e.IsDir() {
				continue
			}
			r, err := Verify(filepath.Join(dir, e.Name()))
			if err != nil {
				r.problemf("%v", err)
			}
			r.Expression = name + "/" + e.Name()
			rr = append(rr, r)
		}
	}
	return rr, nil
}
