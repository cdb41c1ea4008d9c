package gfxgen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExporter writes frames of the configured sizes per animation source.
type fakeExporter struct {
	t     *testing.T
	sizes map[string][]image.Point
	fps   float64
	err   error
	// exported runs after the frames are written
	exported func()
}

func (e *fakeExporter) Export(_ context.Context, src, framesDir string) ([]string, error) {
	if e.err != nil {
		return nil, e.err
	}
	sizes := e.sizes[filepath.Base(src)]
	if len(sizes) == 0 {
		return nil, nil
	}
	frames := writeFrames(e.t, framesDir, sizes...)
	if e.exported != nil {
		e.exported()
	}
	return frames, nil
}

func (e *fakeExporter) FPS(context.Context, string) float64 {
	if e.fps == 0 {
		return DefaultFPS
	}
	return e.fps
}

func repeat(p image.Point, n int) (pp []image.Point) {
	for i := 0; i < n; i++ {
		pp = append(pp, p)
	}
	return pp
}

// testRoot lays out a graphics root with the given library configuration and
// expressions, given as "Library/Expression" or "Library/Expression/file".
func testRoot(t *testing.T, config string, paths ...string) string {
	t.Helper()
	root := t.TempDir()
	writeLibraryConfig(t, root, config)
	for _, p := range paths {
		full := filepath.Join(root, LibrariesDir, filepath.FromSlash(p))
		if filepath.Ext(p) == "" {
			require.NoError(t, os.MkdirAll(full, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, nil, 0644))
	}
	return root
}

func testOptions(root string) Options {
	opt := Defaults()
	opt.Root = root
	return opt
}

func expressionDir(root, library, expression string) string {
	return filepath.Join(root, LibrariesDir, library, expression)
}

func TestRun(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\nOld = false\n",
		"Faces/Happy/happy.aseprite", "Faces/Sad", "Faces/notes.txt")
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": repeat(image.Pt(16, 12), 3),
	}}

	s, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Libraries: 1, Expressions: 2, Descriptors: 2, Animations: 1, Frames: 3}, s)

	happy := expressionDir(root, "Faces", "Happy")
	framesDir := filepath.Join(happy, FramesDir)
	assert.Equal(t, []string{"Frame_00.bin", "Frame_01.bin", "Frame_02.bin"}, listDir(t, framesDir))
	for _, name := range listDir(t, framesDir) {
		info, err := os.Stat(filepath.Join(framesDir, name))
		require.NoError(t, err)
		assert.EqualValues(t, 32, info.Size(), name)
	}
	assert.NoDirExists(t, filepath.Join(framesDir, TransientDir))

	d, err := LoadDescriptor(happy)
	require.NoError(t, err)
	assert.Equal(t, 16, d.Width)
	assert.Equal(t, 12, d.Height)
	assert.Equal(t, 20.0, d.AnimationFPS)

	sad := expressionDir(root, "Faces", "Sad")
	d, err = LoadDescriptor(sad)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Width)
	assert.NoDirExists(t, filepath.Join(sad, FramesDir))
	assert.NoDirExists(t, filepath.Join(root, LibrariesDir, "Old"))
}

func TestRunRecordsFPS(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Wink/wink.ase")
	exp := &fakeExporter{t: t, fps: 12.5, sizes: map[string][]image.Point{
		"wink.ase": repeat(image.Pt(8, 8), 2),
	}}

	_, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	d, err := LoadDescriptor(expressionDir(root, "Faces", "Wink"))
	require.NoError(t, err)
	assert.Equal(t, 12.5, d.AnimationFPS)
	assert.Equal(t, 8, d.Width)
}

func TestRunReplacesStaleFrames(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")
	framesDir := filepath.Join(expressionDir(root, "Faces", "Happy"), FramesDir)
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": repeat(image.Pt(8, 8), 5),
	}}
	_, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, listDir(t, framesDir), 5)

	exp.sizes["happy.aseprite"] = repeat(image.Pt(8, 8), 2)
	_, err = New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Frame_00.bin", "Frame_01.bin"}, listDir(t, framesDir))
}

func TestRunWithoutEditor(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")

	s, err := New(testOptions(root), NewAseprite(nil, Defaults(), nil), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Descriptors)
	assert.Equal(t, 0, s.Frames)
	assert.Equal(t, 0, s.Failures)
	happy := expressionDir(root, "Faces", "Happy")
	assert.FileExists(t, filepath.Join(happy, DescriptorFile))
	assert.NoDirExists(t, filepath.Join(happy, FramesDir))
}

func TestRunEmptyExport(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")
	happy := expressionDir(root, "Faces", "Happy")
	_, err := EnsureDescriptor(happy, "Happy")
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(happy, DescriptorFile))
	require.NoError(t, err)

	s, err := New(testOptions(root), &fakeExporter{t: t}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Descriptors)
	assert.Equal(t, 0, s.Frames)
	after, err := os.ReadFile(filepath.Join(happy, DescriptorFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunDimensionMismatch(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite", "Faces/Sad/sad.aseprite")
	happy := expressionDir(root, "Faces", "Happy")
	framesDir := filepath.Join(happy, FramesDir)
	require.NoError(t, os.MkdirAll(framesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "Frame_00.bin"), make([]byte, 8), 0644))
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": {image.Pt(16, 12), image.Pt(8, 8)},
		"sad.aseprite":   repeat(image.Pt(8, 8), 1),
	}}

	s, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Frames, "the other expression still converts")
	assert.Equal(t, []string{"Frame_00.bin"}, listDir(t, framesDir))
	d, err := LoadDescriptor(happy)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Width)
}

func TestRunUnparsableDescriptor(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")
	happy := expressionDir(root, "Faces", "Happy")
	framesDir := filepath.Join(happy, FramesDir)
	require.NoError(t, os.MkdirAll(framesDir, 0755))
	old := filepath.Join(framesDir, "Frame_00.bin")
	require.NoError(t, os.WriteFile(old, make([]byte, 8), 0644))
	descriptor := "[Loop]\nType = Loop\nstray note\n\n[Dimensions]\nWidth = 8\nHeight = 8\n"
	require.NoError(t, os.WriteFile(filepath.Join(happy, DescriptorFile), []byte(descriptor), 0644))
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": repeat(image.Pt(16, 12), 3),
	}}

	s, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 0, s.Frames)
	assert.Equal(t, []string{"Frame_00.bin"}, listDir(t, framesDir))
	info, err := os.Stat(old)
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size())
	got, err := os.ReadFile(filepath.Join(happy, DescriptorFile))
	require.NoError(t, err)
	assert.Equal(t, descriptor, string(got))
}

func TestRunDescriptorBrokenDuringExport(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")
	happy := expressionDir(root, "Faces", "Happy")
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": repeat(image.Pt(16, 12), 3),
	}}
	exp.exported = func() {
		require.NoError(t, os.WriteFile(filepath.Join(happy, DescriptorFile), []byte("[Loop]\nstray note\n"), 0644))
	}

	s, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 0, s.Frames)
	assert.NoDirExists(t, filepath.Join(happy, FramesDir))
}

func TestRunExportFailure(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\nSpooky = true\n",
		"Faces/Happy/happy.aseprite", "Spooky/Boo/boo.aseprite")
	exp := &fakeExporter{t: t, err: fmt.Errorf("%w: exit status 1", ErrExportFailed)}

	s, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Libraries)
	assert.Equal(t, 2, s.Failures)
	assert.Equal(t, 2, s.Descriptors)
}

func TestRunMissingConfig(t *testing.T) {
	t.Parallel()
	_, err := New(testOptions(filepath.Join(t.TempDir(), "none")), &fakeExporter{t: t}, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestRunLibraryFilter(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\nSpooky = true\n", "Faces/Happy", "Spooky/Boo")
	opt := testOptions(root)
	opt.Libraries = []string{"Spooky"}

	s, err := New(opt, &fakeExporter{t: t}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Libraries)
	assert.FileExists(t, filepath.Join(expressionDir(root, "Spooky", "Boo"), DescriptorFile))
	assert.NoFileExists(t, filepath.Join(expressionDir(root, "Faces", "Happy"), DescriptorFile))
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testOptions(root), &fakeExporter{t: t}, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithFakeEditor(t *testing.T) {
	t.Parallel()
	editorDir := t.TempDir()
	for i := 1; i <= 3; i++ {
		writePNG(t, filepath.Join(editorDir, fmt.Sprintf("Frame_%d.png", i)), testFrame(16, 12, image.Pt(i, i)))
	}
	command := fakeEditor(t, fakeEditorConfig{frames: editorDir, duration: "50"})
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite")
	opt := testOptions(root)

	s, err := New(opt, NewAseprite(command, opt, nil), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 0, s.Failures)

	r, err := Verify(expressionDir(root, "Faces", "Happy"))
	require.NoError(t, err)
	assert.True(t, r.OK(), "%v", r.Problems)
	assert.Equal(t, 3, r.Frames)
	assert.Equal(t, 16, r.Width)
	assert.Equal(t, 12, r.Height)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	root := testRoot(t, "[Libraries]\nFaces = true\n", "Faces/Happy/happy.aseprite", "Faces/Sad")
	exp := &fakeExporter{t: t, sizes: map[string][]image.Point{
		"happy.aseprite": repeat(image.Pt(16, 12), 4),
	}}
	_, err := New(testOptions(root), exp, nil).Run(context.Background())
	require.NoError(t, err)

	rr, err := VerifyRoot(root, nil, nil)
	require.NoError(t, err)
	require.Len(t, rr, 2)
	for _, r := range rr {
		assert.True(t, r.OK(), "%s: %v", r.Expression, r.Problems)
	}
	assert.Equal(t, "Faces/Happy", rr[0].Expression)
	assert.Equal(t, 4, rr[0].Frames)
	assert.Equal(t, 0, rr[1].Frames)

	happy := expressionDir(root, "Faces", "Happy")
	framesDir := filepath.Join(happy, FramesDir)
	require.NoError(t, os.Remove(filepath.Join(framesDir, "Frame_01.bin")))
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "Frame_02.bin"), make([]byte, 31), 0644))
	r, err := Verify(happy)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Len(t, r.Problems, 2)
}

func TestVerifyMissingDescriptor(t *testing.T) {
	t.Parallel()
	_, err := Verify(t.TempDir())
	assert.ErrorIs(t, err, ErrDescriptorMissing)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Defaults().Validate())

	opt := Defaults()
	opt.Root = ""
	assert.Error(t, opt.Validate())

	opt = Defaults()
	opt.FrameFormat = "gif"
	assert.Error(t, opt.Validate())

	opt.FrameFormat = ".BMP"
	assert.NoError(t, opt.Validate())

	opt.ExportTimeout = -1
	assert.Error(t, opt.Validate())
}

func TestHelp(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	fprintHelp(buf)
	assert.Contains(t, buf.String(), DescriptorFile)
	assert.Contains(t, buf.String(), "GFXGEN_EDITOR")
	assert.Contains(t, buf.String(), "-metadata-timeout d    timeout for reading frame timing (default 10s)")
}

func TestNewFromOptions(t *testing.T) {
	t.Parallel()
	command := fakeEditor(t, fakeEditorConfig{})
	opt := testOptions(t.TempDir())
	opt.Editor = fmt.Sprintf("%s '%s'", command[0], command[1])
	g, err := NewFromOptions(context.Background(), opt, nil)
	require.NoError(t, err)
	a, ok := g.exporter.(*Aseprite)
	require.True(t, ok)
	assert.Equal(t, command, a.Command)

	opt.Editor = filepath.Join(t.TempDir(), "no-such-editor")
	g, err = NewFromOptions(context.Background(), opt, nil)
	require.NoError(t, err)
	assert.False(t, g.exporter.(*Aseprite).Available())

	opt.FrameFormat = "gif"
	_, err = NewFromOptions(context.Background(), opt, nil)
	assert.Error(t, err)
}
