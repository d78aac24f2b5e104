// Package codec encodes buffered frames into the file formats frames are persisted in.
package codec

import (
	"image"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pkg/errors"

	"github.com/edaniels/framegrab/pixel"
)

// ErrUnknownFormat happens when no encoder is registered for a format.
var ErrUnknownFormat = errors.New("unknown frame format")

// A Frame is the content of one buffer slot: packed pixels and the geometry needed to
// interpret them.
type Frame struct {
	Data   []byte
	Layout frame.Format
	Width  int
	Height int
}

// Image returns the frame as an image.
func (f Frame) Image() (image.Image, error) {
	return pixel.Unpack(f.Data, f.Layout, f.Width, f.Height)
}

// An Encoder writes a frame in a single file format.
type Encoder interface {
	Encode(w io.Writer, f Frame) error
	// Extension is the conventional file name extension, including the dot.
	Extension() string
}

var registry = struct {
	mu       sync.RWMutex
	encoders map[string]Encoder
}{encoders: map[string]Encoder{}}

// Register makes an encoder available under a format name, replacing any previous one.
func Register(format string, enc Encoder) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.encoders[strings.ToLower(format)] = enc
}

// FormatName normalizes a format as given by an operator. Both "raw" and the option
// string form "-format raw" name the raw format.
func FormatName(format string) string {
	fields := strings.Fields(strings.ToLower(format))
	if len(fields) == 2 && fields[0] == "-format" {
		return fields[1]
	}
	return strings.Join(fields, " ")
}

// Lookup returns the encoder registered for the format and its normalized name.
func Lookup(format string) (Encoder, string, error) {
	name := FormatName(format)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	enc, ok := registry.encoders[name]
	if !ok {
		return nil, name, errors.Wrapf(ErrUnknownFormat, "%q", format)
	}
	return enc, name, nil
}

// Formats returns the names of all registered formats, sorted.
func Formats() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.encoders))
	for name := range registry.encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
