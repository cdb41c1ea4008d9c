package gfxgen

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxDimension is the largest width or height the display firmware can address.
const MaxDimension = 0xffff

// A Bitmap is one packed monochrome frame in the vertical byte layout the
// display driver expects: for every column left to right, one byte per group
// of 8 rows top to bottom, bit 0 being the topmost row of the group.
type Bitmap struct {
	Width  int
	Height int
	Pix    []byte
}

// PackedSize returns the number of bytes a width x height frame packs into.
func PackedSize(width, height int) int {
	return width * ((height + 7) / 8)
}

// Pack builds the packed byte stream for a width x height raster.
// on is only ever called with 0 <= x < width and 0 <= y < height, rows
// beyond the bottom of the last byte group are left off.
func Pack(width, height int, on func(x, y int) bool) []byte {
	groups := (height + 7) / 8
	pix := make([]byte, 0, width*groups)
	for x := 0; x < width; x++ {
		for yByte := 0; yByte < groups; yByte++ {
			b := byte(0)
			for bit := 0; bit < 8; bit++ {
				y := yByte*8 + bit
				if y >= height {
					break
				}
				if on(x, y) {
					b |= 1 << bit
				}
			}
			pix = append(pix, b)
		}
	}
	return pix
}

// Unpack wraps already packed bytes, validating their length against the dimensions.
func Unpack(pix []byte, width, height int) (Bitmap, error) {
	if width < 0 || height < 0 {
		return Bitmap{}, fmt.Errorf("negative dimensions %dx%d", width, height)
	}
	if want := PackedSize(width, height); len(pix) != want {
		return Bitmap{}, fmt.Errorf("invalid data length for %dx%d: expected %d, got %d", width, height, want, len(pix))
	}
	return Bitmap{Width: width, Height: height, Pix: pix}, nil
}

// On reports whether the pixel at x, y is lit.
func (b Bitmap) On(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	groups := (b.Height + 7) / 8
	return b.Pix[x*groups+y/8]&(1<<(y%8)) != 0
}

// Image renders the bitmap as a white-on-black grayscale image, mostly useful for previews.
func (b Bitmap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if b.On(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}
	return img
}

// WriteTo writes the raw packed bytes, there is no header.
func (b Bitmap) WriteTo(w io.Writer) (n int64, err error) {
	m, err := w.Write(b.Pix)
	return int64(m), err
}

// Encode reduces img to monochrome and packs it.
// The image is flattened onto black first, so transparent pixels end up off.
// A pixel is on when its luminance is above threshold, with threshold 0 any
// non-black pixel is on.
func Encode(img image.Image, threshold uint8) (Bitmap, error) {
	if img == nil {
		return Bitmap{}, fmt.Errorf("%w: no image", ErrUnsupportedFormat)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	switch {
	case width <= 0 || height <= 0:
		return Bitmap{}, fmt.Errorf("%w: empty image %dx%d", ErrUnsupportedFormat, width, height)
	case width > MaxDimension || height > MaxDimension:
		return Bitmap{}, fmt.Errorf("%w: image %dx%d exceeds %d pixels", ErrUnsupportedFormat, width, height, MaxDimension)
	}

	gray := luminance(img)
	pix := Pack(width, height, func(x, y int) bool {
		return gray.GrayAt(x, y).Y > threshold
	})
	return Bitmap{Width: width, Height: height, Pix: pix}, nil
}

// luminance flattens img onto an opaque black canvas anchored at 0,0 and converts it to grayscale.
func luminance(img image.Image) *image.Gray {
	bounds := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(flat, flat.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)

	g := gift.New(gift.Grayscale())
	gray := image.NewGray(g.Bounds(flat.Bounds()))
	g.Draw(gray, flat)
	return gray
}

// DecodeFile opens and decodes an image in any of the registered formats.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: os.Open %q failed: %v", ErrDecode, path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: image.Decode %q failed: %v", ErrDecode, path, err)
	}
	return img, nil
}

// EncodeFile decodes the image at path and encodes it with Encode.
func EncodeFile(path string, threshold uint8) (Bitmap, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return Bitmap{}, err
	}
	b, err := Encode(img, threshold)
	if err != nil {
		return Bitmap{}, fmt.Errorf("Encode %q failed: %w", path, err)
	}
	return b, nil
}
