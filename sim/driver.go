// Package sim provides simulated acquisition hardware.
package sim

import (
	"context"
	"encoding/binary"
	"image"
	"sync"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/pixel"
)

var (
	// ErrNoControl happens when the generator of a device has no analog controls.
	ErrNoControl = errors.New("device has no gain or offset control")
	// ErrAlreadyOpen happens when an open device is opened again.
	ErrAlreadyOpen = errors.New("device already open")
	// ErrNotOpen happens when a closed device is asked to record.
	ErrNotOpen = errors.New("device not open")
)

// Failures injects errors into a simulated device.
type Failures struct {
	Open   error
	Record error
	Read   error
}

// Counts records how a simulated device was used.
type Counts struct {
	Opened int
	Closed int
	Reads  int
}

type device struct {
	mu       sync.Mutex
	label    string
	gen      Generator
	state    driver.State
	failures Failures
	counts   Counts
	gate     <-chan struct{}
}

func newDevice(label string, gen Generator) *device {
	return &device{label: label, gen: gen, state: driver.StateClosed}
}

func (d *device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures.Open != nil {
		return d.failures.Open
	}
	if d.state != driver.StateClosed {
		return ErrAlreadyOpen
	}
	d.state = driver.StateOpened
	d.counts.Opened++
	return nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == driver.StateClosed {
		return nil
	}
	d.state = driver.StateClosed
	d.counts.Closed++
	return nil
}

func (d *device) Properties() []prop.Media {
	return []prop.Media{{
		Video: prop.Video{
			Width:       d.gen.Pixels(),
			Height:      1,
			FrameFormat: pixel.FormatGray16LE,
		},
	}}
}

func (d *device) ID() string {
	return d.label
}

func (d *device) Info() driver.Info {
	return driver.Info{Label: d.label, DeviceType: driver.Camera}
}

func (d *device) Status() driver.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetGain forwards to the generator when it has analog controls.
func (d *device) SetGain(gain int) error {
	c, ok := d.gen.(acquisition.Controller)
	if !ok {
		return ErrNoControl
	}
	return c.SetGain(gain)
}

// SetOffset forwards to the generator when it has analog controls.
func (d *device) SetOffset(offset int) error {
	c, ok := d.gen.(acquisition.Controller)
	if !ok {
		return ErrNoControl
	}
	return c.SetOffset(offset)
}

// SetFailures replaces the injected failures.
func (d *device) SetFailures(f Failures) {
	d.mu.Lock()
	d.failures = f
	d.mu.Unlock()
}

// SetGate makes every read wait for a value on gate before producing a frame.
func (d *device) SetGate(gate <-chan struct{}) {
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}

// Counts returns the usage recorded so far.
func (d *device) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

func (d *device) record(p prop.Media) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures.Record != nil {
		return d.failures.Record
	}
	if d.state == driver.StateClosed {
		return ErrNotOpen
	}
	if p.Width*p.Height != d.gen.Pixels() {
		return errors.Errorf("%s produces %d pixels, configuration asks for %dx%d",
			d.label, d.gen.Pixels(), p.Width, p.Height)
	}
	d.state = driver.StateRunning
	return nil
}

func (d *device) read() ([]uint16, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != driver.StateRunning {
		return nil, ErrNotOpen
	}
	d.counts.Reads++
	if d.failures.Read != nil {
		return nil, d.failures.Read
	}
	return d.gen.Next(), nil
}

// A ManagedDriver is a simulated device that delivers finished images.
type ManagedDriver struct {
	*device
}

// NewManagedDriver returns a managed driver producing frames from gen.
func NewManagedDriver(label string, gen Generator) *ManagedDriver {
	return &ManagedDriver{newDevice(label, gen)}
}

// VideoRecord starts recording single line GRAY16 images.
func (d *ManagedDriver) VideoRecord(p prop.Media) (video.Reader, error) {
	if err := d.record(p); err != nil {
		return nil, err
	}
	width, height := p.Width, p.Height
	return video.ReaderFunc(func() (image.Image, func(), error) {
		samples, err := d.read()
		if err != nil {
			return nil, nil, err
		}
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for i, v := range samples {
			img.Pix[2*i] = byte(v >> 8)
			img.Pix[2*i+1] = byte(v)
		}
		return img, func() {}, nil
	}), nil
}

// A RawDriver is a simulated device that delivers little endian 16 bit samples.
type RawDriver struct {
	*device
}

// NewRawDriver returns a raw driver producing frames from gen.
func NewRawDriver(label string, gen Generator) *RawDriver {
	return &RawDriver{newDevice(label, gen)}
}

// RawRecord starts recording GRAY16LE frames.
func (d *RawDriver) RawRecord(p prop.Media) (acquisition.RawReader, error) {
	if p.FrameFormat != pixel.FormatGray16LE {
		return nil, errors.Errorf("%s cannot deliver %q", d.label, p.FrameFormat)
	}
	if err := d.record(p); err != nil {
		return nil, err
	}
	return rawReader{d}, nil
}

type rawReader struct {
	d *RawDriver
}

func (r rawReader) ReadRaw() ([]byte, func(), error) {
	samples, err := r.d.read()
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out, func() {}, nil
}

func (r rawReader) Close(ctx context.Context) error {
	return nil
}
