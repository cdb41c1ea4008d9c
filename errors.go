package gfxgen

import "errors"

var (
	// ErrConfigMissing means the graphics root or its library configuration is
	// absent or unusable. It is the only error that stops a whole run.
	ErrConfigMissing = errors.New("library configuration missing")

	ErrDecode            = errors.New("cannot decode image")
	ErrUnsupportedFormat = errors.New("cannot reduce image to monochrome")
	ErrDimensionMismatch = errors.New("frame dimensions differ")

	ErrEditorNotFound = errors.New("animation editor not found")
	ErrExportTimeout  = errors.New("animation export timed out")
	ErrExportFailed   = errors.New("animation export failed")
	ErrDuplicateFrame = errors.New("duplicate frame index")

	ErrDescriptorMissing = errors.New("expression descriptor missing")
)
