package codec

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Formats registered by default.
const (
	FormatRaw  = "raw"
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatTIFF = "tiff"
	FormatBMP  = "bmp"
)

func init() {
	Register(FormatRaw, rawEncoder{})
	Register(FormatPNG, imageEncoder{ext: ".png", encode: png.Encode})
	Register(FormatJPEG, imageEncoder{ext: ".jpg", encode: func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	}})
	Register(FormatTIFF, imageEncoder{ext: ".tif", encode: func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}})
	Register(FormatBMP, imageEncoder{ext: ".bmp", encode: bmp.Encode})
}

// rawEncoder writes the packed pixels verbatim. 16 bit data is little endian.
type rawEncoder struct{}

func (rawEncoder) Encode(w io.Writer, f Frame) error {
	_, err := w.Write(f.Data)
	return err
}

func (rawEncoder) Extension() string {
	return ".raw"
}

type imageEncoder struct {
	ext    string
	encode func(w io.Writer, img image.Image) error
}

func (e imageEncoder) Encode(w io.Writer, f Frame) error {
	img, err := f.Image()
	if err != nil {
		return err
	}
	return e.encode(w, img)
}

func (e imageEncoder) Extension() string {
	return e.ext
}
