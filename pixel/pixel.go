// Package pixel packs images into the byte layouts a buffer pool stores and back.
package pixel

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pkg/errors"
)

// Layouts understood natively by the host. Anything else must be decoded first.
const (
	FormatGray8    frame.Format = "GRAY8"
	FormatGray16LE frame.Format = "GRAY16LE"
	FormatRGBA     frame.Format = frame.FormatRGBA
)

// ErrGeometry happens when an image does not match the geometry it is packed into.
var ErrGeometry = errors.New("image geometry mismatch")

// IsNative returns whether the format can be stored and unpacked without a decoder.
func IsNative(f frame.Format) bool {
	switch f {
	case FormatGray8, FormatGray16LE, FormatRGBA:
		return true
	default:
		return false
	}
}

// BytesPerPixel returns the storage size of a single pixel in a native layout.
func BytesPerPixel(f frame.Format) (int, error) {
	switch f {
	case FormatGray8:
		return 1, nil
	case FormatGray16LE:
		return 2, nil
	case FormatRGBA:
		return 4, nil
	default:
		return 0, errors.Errorf("unsupported pixel layout %q", f)
	}
}

// FrameSize returns the number of bytes a width x height frame occupies.
func FrameSize(f frame.Format, width, height int) (int, error) {
	bpp, err := BytesPerPixel(f)
	if err != nil {
		return 0, err
	}
	if width <= 0 || height <= 0 {
		return 0, errors.Wrapf(ErrGeometry, "invalid frame size %dx%d", width, height)
	}
	return bpp * width * height, nil
}

// Pack converts img into the given layout. The image bounds must be exactly width x height.
func Pack(img image.Image, f frame.Format, width, height int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, errors.Wrapf(ErrGeometry, "got %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}
	size, err := FrameSize(f, width, height)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	switch f {
	case FormatGray8:
		if g, ok := img.(*image.Gray); ok {
			for y := 0; y < height; y++ {
				off := g.PixOffset(b.Min.X, b.Min.Y+y)
				copy(out[y*width:(y+1)*width], g.Pix[off:off+width])
			}
			return out, nil
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				out[y*width+x] = c.Y
			}
		}
	case FormatGray16LE:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				var v uint16
				if g, ok := img.(*image.Gray16); ok {
					v = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				} else {
					v = color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
				}
				binary.LittleEndian.PutUint16(out[2*(y*width+x):], v)
			}
		}
	case FormatRGBA:
		rgba, ok := img.(*image.RGBA)
		if !ok || rgba.Stride != 4*width {
			rgba = image.NewRGBA(image.Rect(0, 0, width, height))
			draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		}
		copy(out, rgba.Pix)
	}
	return out, nil
}

// Unpack builds an image over data stored in the given layout.
func Unpack(data []byte, f frame.Format, width, height int) (image.Image, error) {
	size, err := FrameSize(f, width, height)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, errors.Wrapf(ErrGeometry, "have %d bytes, need %d", len(data), size)
	}
	rect := image.Rect(0, 0, width, height)
	switch f {
	case FormatGray8:
		img := image.NewGray(rect)
		copy(img.Pix, data[:size])
		return img, nil
	case FormatGray16LE:
		img := image.NewGray16(rect)
		for i := 0; i < width*height; i++ {
			v := binary.LittleEndian.Uint16(data[2*i:])
			// image.Gray16 stores big-endian
			img.Pix[2*i] = byte(v >> 8)
			img.Pix[2*i+1] = byte(v)
		}
		return img, nil
	default:
		img := image.NewRGBA(rect)
		copy(img.Pix, data[:size])
		return img, nil
	}
}

// Samples returns the per-pixel intensity of a frame as unsigned integers, row major.
func Samples(data []byte, f frame.Format, width, height int) ([]uint16, error) {
	size, err := FrameSize(f, width, height)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, errors.Wrapf(ErrGeometry, "have %d bytes, need %d", len(data), size)
	}
	out := make([]uint16, width*height)
	for i := range out {
		switch f {
		case FormatGray8:
			out[i] = uint16(data[i])
		case FormatGray16LE:
			out[i] = binary.LittleEndian.Uint16(data[2*i:])
		default:
			p := data[4*i:]
			y := (19595*uint32(p[0]) + 38470*uint32(p[1]) + 7471*uint32(p[2]) + 1<<15) >> 16
			out[i] = uint16(y)
		}
	}
	return out, nil
}
