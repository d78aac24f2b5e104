// Package buffer holds the receiving memory that transfers fill and that frames are
// displayed and persisted from.
package buffer

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/codec"
	"github.com/edaniels/framegrab/pixel"
)

var (
	// ErrSourceInactive happens when a pool is created over a source that is not active.
	ErrSourceInactive = errors.New("source not active")
	// ErrNotCreated happens when frames are written to a pool that is not created.
	ErrNotCreated = errors.New("buffer pool not created")
	// ErrAlreadyCreated happens when a created pool is created again.
	ErrAlreadyCreated = errors.New("buffer pool already created")
)

// A Layout describes how the memory of a frame is arranged.
type Layout int

const (
	// ScatterGather splits each frame into independently allocated fragments.
	ScatterGather Layout = iota
	// Contiguous keeps each frame in a single allocation.
	Contiguous
)

func (l Layout) String() string {
	switch l {
	case ScatterGather:
		return "scatter-gather"
	case Contiguous:
		return "contiguous"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// DefaultFragmentSize is the size of a scatter-gather fragment, one memory page.
const DefaultFragmentSize = 4096

// Options configure a pool.
type Options struct {
	Count        int
	Layout       Layout
	FragmentSize int
}

func (o Options) withDefaults() Options {
	if o.Count <= 0 {
		o.Count = 1
	}
	if o.FragmentSize <= 0 {
		o.FragmentSize = DefaultFragmentSize
	}
	return o
}

// A Pool is a set of frame buffers bound to a source whose geometry sizes them. The pool
// refers to the source but does not own it.
type Pool struct {
	mu     sync.Mutex
	source acquisition.Source
	opts   Options
	logger golog.Logger

	layout frame.Format
	width  int
	height int
	size   int

	slots   [][][]byte
	filled  []bool
	current int
	writes  int
	active  bool
}

// NewPool returns a pool sized after the source. No memory is allocated until Create.
func NewPool(source acquisition.Source, opts Options, logger golog.Logger) *Pool {
	return &Pool{
		source: source,
		opts:   opts.withDefaults(),
		logger: logger.Named("buffer"),
	}
}

// Source returns the source the pool is bound to.
func (p *Pool) Source() acquisition.Source {
	return p.source
}

// Create allocates the frame buffers. The bound source must be active.
func (p *Pool) Create(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return ErrAlreadyCreated
	}
	if p.source == nil || !p.source.Active() {
		return ErrSourceInactive
	}
	props := p.source.Properties()
	layout := p.source.Layout()
	size, err := pixel.FrameSize(layout, props.Width, props.Height)
	if err != nil {
		return err
	}
	fragment := size
	if p.opts.Layout == ScatterGather && p.opts.FragmentSize < size {
		fragment = p.opts.FragmentSize
	}

	p.layout, p.width, p.height, p.size = layout, props.Width, props.Height, size
	p.slots = make([][][]byte, p.opts.Count)
	for i := range p.slots {
		for off := 0; off < size; off += fragment {
			n := fragment
			if off+n > size {
				n = size - off
			}
			p.slots[i] = append(p.slots[i], make([]byte, n))
		}
	}
	p.filled = make([]bool, p.opts.Count)
	p.current = 0
	p.writes = 0
	p.active = true
	p.logger.Debugw("created",
		"count", p.opts.Count,
		"layout", p.opts.Layout,
		"format", layout,
		"width", p.width,
		"height", p.height,
		"fragments", len(p.slots[0]),
	)
	return nil
}

// Destroy releases the frame buffers. It does nothing on a pool that is not created.
func (p *Pool) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil
	}
	p.active = false
	p.slots = nil
	p.filled = nil
	p.logger.Debug("destroyed")
	return nil
}

// Active returns whether the pool is created.
func (p *Pool) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Fragments returns the number of fragments of each frame buffer.
func (p *Pool) Fragments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) == 0 {
		return 0
	}
	return len(p.slots[0])
}

// FrameSize returns the number of bytes of a frame.
func (p *Pool) FrameSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Write stores img in the next frame buffer, scattering its pixels over the fragments.
// It returns the index of the buffer written.
func (p *Pool) Write(img image.Image) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return 0, ErrNotCreated
	}
	data, err := pixel.Pack(img, p.layout, p.width, p.height)
	if err != nil {
		return 0, err
	}
	index := p.writes % len(p.slots)
	off := 0
	for _, frag := range p.slots[index] {
		off += copy(frag, data[off:])
	}
	p.filled[index] = true
	p.current = index
	p.writes++
	return index, nil
}

// Filled returns whether any transfer completed into the pool.
func (p *Pool) Filled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active && p.filled[p.current]
}

// gather must be called with the lock held.
func (p *Pool) gather() (codec.Frame, error) {
	if !p.active || !p.filled[p.current] {
		return codec.Frame{}, framegrab.ErrNoFrameAvailable
	}
	data := make([]byte, 0, p.size)
	for _, frag := range p.slots[p.current] {
		data = append(data, frag...)
	}
	return codec.Frame{Data: data, Layout: p.layout, Width: p.width, Height: p.height}, nil
}

// Frame returns a copy of the most recently written frame.
func (p *Pool) Frame() (codec.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gather()
}

// Image returns the most recently written frame as an image.
func (p *Pool) Image() (image.Image, error) {
	f, err := p.Frame()
	if err != nil {
		return nil, err
	}
	return f.Image()
}

// WriteTo writes the packed pixels of the most recently written frame to w.
func (p *Pool) WriteTo(w io.Writer) (int64, error) {
	p.mu.Lock()
	if !p.active || !p.filled[p.current] {
		p.mu.Unlock()
		return 0, framegrab.ErrNoFrameAvailable
	}
	frags := make([][]byte, len(p.slots[p.current]))
	for i, frag := range p.slots[p.current] {
		frags[i] = append([]byte(nil), frag...)
	}
	p.mu.Unlock()

	var total int64
	for _, frag := range frags {
		n, err := w.Write(frag)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Save persists the most recently written frame to the named file in the given format.
// The file is replaced atomically. Nothing is written before a transfer completed.
func (p *Pool) Save(name, format string) error {
	enc, formatName, err := codec.Lookup(format)
	if err != nil {
		return &framegrab.PersistError{Name: name, Format: format, Err: err}
	}
	f, err := p.Frame()
	if err != nil {
		return &framegrab.PersistError{Name: name, Format: formatName, Err: err}
	}
	if err := writeFile(name, func(w io.Writer) error {
		return enc.Encode(w, f)
	}); err != nil {
		return &framegrab.PersistError{Name: name, Format: formatName, Err: err}
	}
	p.logger.Debugw("saved", "name", name, "format", formatName, "bytes", len(f.Data))
	return nil
}

func writeFile(name string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()
	if err := write(tmp); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
