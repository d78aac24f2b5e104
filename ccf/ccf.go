// Package ccf loads camera configuration files (CCF) that parameterize an acquisition source.
//
// The file contents are kept verbatim and handed to the driver unmodified; only the frame
// geometry needed to size receiving buffers is read from it.
package ccf

import (
	"os"
	"strings"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/edaniels/framegrab/pixel"
)

// Keys read from a configuration file. Lookups are case insensitive and span all sections.
const (
	KeyCropWidth   = "crop width"
	KeyCropHeight  = "crop height"
	KeyPixelDepth  = "pixel depth"
	KeyPixelFormat = "pixel format"
	KeyFrameRate   = "frame rate"
)

// ErrMissingWidth happens when a configuration file does not describe the frame width.
var ErrMissingWidth = errors.New("configuration has no crop width")

// A File is a loaded configuration blob.
type File struct {
	Name      string
	Raw       []byte
	Width     int
	Height    int
	Depth     int
	Format    frame.Format
	FrameRate float32
}

// Load reads and parses the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read configuration file")
	}
	return Parse(path, data)
}

// Parse parses configuration data. name is only used for reporting.
func Parse(name string, data []byte) (*File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:             true,
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
		IgnoreInlineComment:     true,
	}, data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}

	f := &File{
		Name:   name,
		Raw:    append([]byte(nil), data...),
		Height: 1,
		Depth:  16,
	}
	width, ok, err := lookupInt(cfg, KeyCropWidth)
	if err != nil {
		return nil, err
	}
	if !ok || width <= 0 {
		return nil, errors.Wrap(ErrMissingWidth, name)
	}
	f.Width = width

	if height, ok, err := lookupInt(cfg, KeyCropHeight); err != nil {
		return nil, err
	} else if ok && height > 0 {
		f.Height = height
	}
	if depth, ok, err := lookupInt(cfg, KeyPixelDepth); err != nil {
		return nil, err
	} else if ok {
		f.Depth = depth
	}
	if key := lookup(cfg, KeyFrameRate); key != nil {
		rate, err := key.Float64()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: %s", name, KeyFrameRate)
		}
		f.FrameRate = float32(rate)
	}

	switch f.Depth {
	case 8:
		f.Format = pixel.FormatGray8
	case 16:
		f.Format = pixel.FormatGray16LE
	case 32:
		f.Format = pixel.FormatRGBA
	default:
		return nil, errors.Errorf("%s: unsupported pixel depth %d", name, f.Depth)
	}
	if key := lookup(cfg, KeyPixelFormat); key != nil {
		f.Format = frame.Format(strings.ToUpper(strings.TrimSpace(key.String())))
	}
	return f, nil
}

// Layout returns the pixel layout frames are stored in once received by the host.
// Formats the host has to decode are stored as RGBA.
func (f *File) Layout() frame.Format {
	if pixel.IsNative(f.Format) {
		return f.Format
	}
	return pixel.FormatRGBA
}

// Pixels returns the number of pixels in one frame.
func (f *File) Pixels() int {
	return f.Width * f.Height
}

// Media returns the media properties to request from a driver.
func (f *File) Media() prop.Media {
	return prop.Media{
		Video: prop.Video{
			Width:       f.Width,
			Height:      f.Height,
			FrameFormat: f.Format,
			FrameRate:   f.FrameRate,
		},
	}
}

func lookup(cfg *ini.File, name string) *ini.Key {
	for _, sec := range cfg.Sections() {
		if sec.HasKey(name) {
			return sec.Key(name)
		}
	}
	return nil
}

func lookupInt(cfg *ini.File, name string) (int, bool, error) {
	key := lookup(cfg, name)
	if key == nil {
		return 0, false, nil
	}
	v, err := key.Int()
	if err != nil {
		return 0, false, errors.Wrapf(err, "key %q", name)
	}
	return v, true, nil
}
