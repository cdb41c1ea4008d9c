package gfxgen

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"gopkg.in/ini.v1"
)

// DescriptorFile is the name of the per expression descriptor.
const DescriptorFile = "Description.ini"

const (
	loopSection       = "Loop"
	dimensionsSection = "Dimensions"
)

// A LoopKind selects how the firmware plays an expression.
type LoopKind byte

const (
	IdleBlink LoopKind = iota
	Loop
	Image
)

func (k LoopKind) String() string {
	switch k {
	case IdleBlink:
		return "IdleBlink"
	case Loop:
		return "Loop"
	case Image:
		return "Image"
	}
	return "unknown loop kind"
}

// ParseLoopKind parses the Type value of a descriptor.
func ParseLoopKind(s string) (LoopKind, error) {
	switch s {
	case "IdleBlink":
		return IdleBlink, nil
	case "Loop":
		return Loop, nil
	case "Image":
		return Image, nil
	}
	return IdleBlink, fmt.Errorf("unknown loop type %q", s)
}

// A Descriptor holds the playback policy and frame size of one expression.
// Width and Height are 0 until the first successful conversion.
type Descriptor struct {
	Loop         LoopKind
	AnimationFPS float64
	IdleMinMS    int
	IdleMaxMS    int
	Width        int
	Height       int
}

// DefaultDescriptor returns the descriptor written for new expressions.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Loop:         IdleBlink,
		AnimationFPS: DefaultFPS,
		IdleMinMS:    1000,
		IdleMaxMS:    3000,
	}
}

// Validate checks the fields that matter for the descriptor's loop kind.
func (d Descriptor) Validate() error {
	if d.Loop != Image && !(d.AnimationFPS > 0) {
		return fmt.Errorf("AnimationFPS must be positive, not %v", d.AnimationFPS)
	}
	if d.Loop == IdleBlink {
		if d.IdleMinMS < 0 || d.IdleMinMS > d.IdleMaxMS {
			return fmt.Errorf("idle time range [%d, %d] is invalid", d.IdleMinMS, d.IdleMaxMS)
		}
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("negative dimensions %dx%d", d.Width, d.Height)
	}
	return nil
}

// FormatFPS formats a frame rate the way descriptors store it: whole numbers
// without a decimal point, anything else with one decimal.
func FormatFPS(fps float64) string {
	if fps == math.Trunc(fps) {
		return strconv.FormatFloat(fps, 'f', 0, 64)
	}
	return strconv.FormatFloat(fps, 'f', 1, 64)
}

// The template is laid out the way ini writes files back, with single
// spaces around "=" and comments without indentation, so UpdateDimensions
// changes nothing but the values.
//
//go:embed "descriptor.ini.tmpl"
var descriptorTemplateText string

func init() {
	ini.PrettyFormat = false
	ini.PrettyEqual = true
}

var descriptorTemplate = template.Must(template.New(DescriptorFile).Parse(descriptorTemplateText))

// EnsureDescriptor writes the default descriptor for the expression in dir
// unless one exists already. An existing file is never touched, it may hold
// hand tuned values.
func EnsureDescriptor(dir, name string) (created bool, err error) {
	path := filepath.Join(dir, DescriptorFile)
	if _, err = os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("os.Stat %q failed: %w", path, err)
	}

	d := DefaultDescriptor()
	buf := &bytes.Buffer{}
	err = descriptorTemplate.Execute(buf, struct {
		Name                 string
		Loop                 LoopKind
		FPS                  string
		IdleMinMS, IdleMaxMS int
		Width, Height        int
	}{name, d.Loop, FormatFPS(d.AnimationFPS), d.IdleMinMS, d.IdleMaxMS, d.Width, d.Height})
	if err != nil {
		return false, fmt.Errorf("descriptorTemplate.Execute failed: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("os.OpenFile %q failed: %w", path, err)
	}
	if _, err = buf.WriteTo(f); err != nil {
		f.Close()
		return false, fmt.Errorf("WriteTo %q failed: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return false, fmt.Errorf("Close %q failed: %w", path, err)
	}
	return true, nil
}

func loadDescriptorFile(dir string) (*ini.File, string, error) {
	path := filepath.Join(dir, DescriptorFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, path, fmt.Errorf("%w: %q", ErrDescriptorMissing, path)
		}
		return nil, path, fmt.Errorf("os.Stat %q failed: %w", path, err)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("ini.Load %q failed: %w", path, err)
	}
	return cfg, path, nil
}

// LoadDescriptor reads the descriptor in dir. Keys that are absent keep
// their DefaultDescriptor values, except Width and Height which default to 0.
func LoadDescriptor(dir string) (Descriptor, error) {
	cfg, path, err := loadDescriptorFile(dir)
	if err != nil {
		return Descriptor{}, err
	}
	d := DefaultDescriptor()
	if loop, err := cfg.GetSection(loopSection); err == nil {
		if loop.HasKey("Type") {
			if d.Loop, err = ParseLoopKind(loop.Key("Type").String()); err != nil {
				return d, fmt.Errorf("%q: %w", path, err)
			}
		}
		if loop.HasKey("AnimationFPS") {
			if d.AnimationFPS, err = loop.Key("AnimationFPS").Float64(); err != nil {
				return d, fmt.Errorf("%q: AnimationFPS: %w", path, err)
			}
		}
		if loop.HasKey("IdleTimeMinMS") {
			if d.IdleMinMS, err = loop.Key("IdleTimeMinMS").Int(); err != nil {
				return d, fmt.Errorf("%q: IdleTimeMinMS: %w", path, err)
			}
		}
		if loop.HasKey("IdleTimeMaxMS") {
			if d.IdleMaxMS, err = loop.Key("IdleTimeMaxMS").Int(); err != nil {
				return d, fmt.Errorf("%q: IdleTimeMaxMS: %w", path, err)
			}
		}
	}
	if dims, err := cfg.GetSection(dimensionsSection); err == nil {
		if dims.HasKey("Width") {
			if d.Width, err = dims.Key("Width").Int(); err != nil {
				return d, fmt.Errorf("%q: Width: %w", path, err)
			}
		}
		if dims.HasKey("Height") {
			if d.Height, err = dims.Key("Height").Int(); err != nil {
				return d, fmt.Errorf("%q: Height: %w", path, err)
			}
		}
	}
	return d, nil
}

// UpdateDimensions rewrites Width and Height of the descriptor in dir, and
// AnimationFPS too when fps is not nil. Every other key, the key order and
// the comments are kept.
// It returns ErrDescriptorMissing when dir has no descriptor.
func UpdateDimensions(dir string, width, height int, fps *float64) error {
	cfg, path, err := loadDescriptorFile(dir)
	if err != nil {
		return err
	}
	dims := cfg.Section(dimensionsSection)
	dims.Key("Width").SetValue(strconv.Itoa(width))
	dims.Key("Height").SetValue(strconv.Itoa(height))
	if fps != nil {
		if loop, err := cfg.GetSection(loopSection); err == nil {
			loop.Key("AnimationFPS").SetValue(FormatFPS(*fps))
		}
	}
	if err = cfg.SaveTo(path); err != nil {
		return fmt.Errorf("SaveTo %q failed: %w", path, err)
	}
	return nil
}
