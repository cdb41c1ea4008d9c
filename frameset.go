package gfxgen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// ArtifactExt is the file extension of packed frame artifacts.
const ArtifactExt = ".bin"

// A ConversionResult describes the artifact set written by a FrameSetConverter.
type ConversionResult struct {
	Count  int
	Width  int
	Height int
}

// FrameSetConverter packs an ordered sequence of exported frame images into
// one artifact per frame.
type FrameSetConverter struct {
	Threshold uint8
	Logger    *slog.Logger
}

// ArtifactName returns the file name of frame index in a set of count frames.
// Indexes are zero padded to at least two digits, wider when count needs it.
func ArtifactName(index, count int) string {
	digits := len(strconv.Itoa(count - 1))
	if digits < 2 {
		digits = 2
	}
	return fmt.Sprintf("Frame_%0*d%s", digits, index, ArtifactExt)
}

// Convert encodes frames in order and replaces the contents of outDir with
// the resulting artifacts. All frames must share the dimensions of the first.
// Nothing is written unless every frame encodes, so a failed set leaves the
// previous artifacts in place. The frame images and their directory are
// removed whatever the outcome.
// An empty frames slice returns a zero ConversionResult and leaves outDir alone.
func (c *FrameSetConverter) Convert(frames []string, outDir string) (ConversionResult, error) {
	if len(frames) == 0 {
		return ConversionResult{}, nil
	}
	defer c.removeTransient(frames)

	bitmaps := make([]Bitmap, 0, len(frames))
	for i, frame := range frames {
		b, err := EncodeFile(frame, c.Threshold)
		if err != nil {
			return ConversionResult{}, fmt.Errorf("frame %d: %w", i, err)
		}
		if i > 0 && (b.Width != bitmaps[0].Width || b.Height != bitmaps[0].Height) {
			return ConversionResult{}, fmt.Errorf("%w: frame %d %q is %dx%d, frame 0 is %dx%d",
				ErrDimensionMismatch, i, filepath.Base(frame), b.Width, b.Height, bitmaps[0].Width, bitmaps[0].Height)
		}
		bitmaps = append(bitmaps, b)
		c.logger().Debug("encoded frame", "index", i, "file", filepath.Base(frame), "bytes", len(b.Pix))
	}

	if err := os.RemoveAll(outDir); err != nil {
		return ConversionResult{}, fmt.Errorf("os.RemoveAll %q failed: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return ConversionResult{}, fmt.Errorf("os.MkdirAll %q failed: %w", outDir, err)
	}
	for i, b := range bitmaps {
		path := filepath.Join(outDir, ArtifactName(i, len(bitmaps)))
		if err := writeArtifact(path, b); err != nil {
			// a partial set would contradict the descriptor
			if rerr := os.RemoveAll(outDir); rerr != nil {
				c.logger().Warn("could not remove partial frame set", "dir", outDir, "err", rerr)
			}
			return ConversionResult{}, err
		}
	}
	return ConversionResult{Count: len(bitmaps), Width: bitmaps[0].Width, Height: bitmaps[0].Height}, nil
}

func writeArtifact(path string, b Bitmap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create %q failed: %w", path, err)
	}
	if _, err = b.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("WriteTo %q failed: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("Close %q failed: %w", path, err)
	}
	return nil
}

// removeTransient deletes the consumed frame images and then their directories.
// Failures are only logged.
func (c *FrameSetConverter) removeTransient(frames []string) {
	dirs := []string{}
	seen := map[string]bool{}
	for _, frame := range frames {
		if err := os.Remove(frame); err != nil && !os.IsNotExist(err) {
			c.logger().Warn("could not delete intermediate frame", "file", frame, "err", err)
		}
		if dir := filepath.Dir(frame); !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			c.logger().Warn("could not delete transient directory", "dir", dir, "err", err)
		}
	}
}

func (c *FrameSetConverter) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
