// Package acquisition defines the frame producing sources a pipeline claims and reads from.
package acquisition

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/edaniels/framegrab/ccf"
)

var (
	// ErrAlreadyCreated happens when an active source is created again.
	ErrAlreadyCreated = errors.New("source already created")
	// ErrNotActive happens when frames are requested from a source that is not active.
	ErrNotActive = errors.New("source not active")
	// ErrNotRecorder happens when a driver cannot record in the requested variant.
	ErrNotRecorder = errors.New("driver cannot record frames for this variant")
	// ErrSourceBusy happens when a source is created while another one is live.
	ErrSourceBusy = errors.New("another source is live")
)

// A Variant tells how a source produces frames.
type Variant int

const (
	// Managed sources process frames on board and deliver finished images.
	Managed Variant = iota + 1
	// RawDevice sources deliver raw sensor data that the host has to process.
	RawDevice
)

func (v Variant) String() string {
	switch v {
	case Managed:
		return "managed acquisition"
	case RawDevice:
		return "raw device"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// A Location identifies a resource at a server.
type Location struct {
	Server string
	Index  int
}

func (l Location) String() string {
	return fmt.Sprintf("%s[%d]", l.Server, l.Index)
}

// A Source is the capability set every acquisition variant offers. A source starts
// configured, becomes active on Create and inert again on Destroy.
type Source interface {
	Variant() Variant
	Location() Location
	// Label is the label of the underlying driver.
	Label() string
	// Properties are the frame properties requested from the driver.
	Properties() prop.Video
	// Layout is the pixel layout of the images Read returns.
	Layout() frame.Format

	// Create claims the physical resource.
	Create(ctx context.Context) error
	// Destroy releases the claim. It does nothing on a source that is not active.
	Destroy(ctx context.Context) error
	Active() bool

	// Read blocks until the next frame is available. The release function must be
	// called once the image is no longer used.
	Read(ctx context.Context) (image.Image, func(), error)

	// Controls returns the device controls, if the driver has any.
	Controls() (Controller, bool)
}

// A Controller adjusts the analog front end of a device.
type Controller interface {
	SetGain(gain int) error
	SetOffset(offset int) error
}

// A RawReader reads raw frames as they come off a device.
type RawReader interface {
	ReadRaw() (data []byte, release func(), err error)
}

// A RawRecorder is a driver that delivers unprocessed frames.
type RawRecorder interface {
	RawRecord(p prop.Media) (RawReader, error)
}

// recorder starts recording on a claimed driver in a variant specific way.
type recorder func(d driver.Driver, blob *ccf.File) (video.Reader, error)

type source struct {
	mu      sync.Mutex
	variant Variant
	drv     driver.Driver
	loc     Location
	blob    *ccf.File
	record  recorder
	reader  video.Reader
	active  bool
	logger  golog.Logger
}

// NewManaged returns a configured source for a driver that processes frames on board.
func NewManaged(d driver.Driver, loc Location, blob *ccf.File, logger golog.Logger) (Source, error) {
	if _, ok := d.(driver.VideoRecorder); !ok {
		return nil, errors.Wrapf(ErrNotRecorder, "%s as %s", d.Info().Label, Managed)
	}
	return newSource(Managed, d, loc, blob, recordManaged, logger), nil
}

// NewRawDevice returns a configured source for a driver whose frames are processed by the host.
func NewRawDevice(d driver.Driver, loc Location, blob *ccf.File, logger golog.Logger) (Source, error) {
	if _, ok := d.(RawRecorder); !ok {
		return nil, errors.Wrapf(ErrNotRecorder, "%s as %s", d.Info().Label, RawDevice)
	}
	return newSource(RawDevice, d, loc, blob, recordRaw, logger), nil
}

func newSource(
	variant Variant,
	d driver.Driver,
	loc Location,
	blob *ccf.File,
	record recorder,
	logger golog.Logger,
) *source {
	return &source{
		variant: variant,
		drv:     d,
		loc:     loc,
		blob:    blob,
		record:  record,
		logger:  logger.Named("source"),
	}
}

func (s *source) Variant() Variant {
	return s.variant
}

func (s *source) Location() Location {
	return s.loc
}

func (s *source) Label() string {
	return s.drv.Info().Label
}

func (s *source) Properties() prop.Video {
	return s.blob.Media().Video
}

func (s *source) Layout() frame.Format {
	return s.blob.Layout()
}

func (s *source) Create(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrAlreadyCreated
	}
	if err := claim(s); err != nil {
		return err
	}
	if err := s.drv.Open(); err != nil {
		release(s)
		return errors.Wrapf(err, "opening %s", s.Label())
	}
	reader, err := s.record(s.drv, s.blob)
	if err != nil {
		// leave the resource unclaimed
		release(s)
		return multierr.Combine(errors.Wrapf(err, "recording from %s", s.Label()), s.drv.Close())
	}
	s.reader = reader
	s.active = true
	s.logger.Debugw("created", "label", s.Label(), "variant", s.variant, "location", s.loc)
	return nil
}

func (s *source) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	reader := s.reader
	s.reader = nil
	err := multierr.Combine(utils.TryClose(ctx, reader), s.drv.Close())
	release(s)
	s.logger.Debugw("destroyed", "label", s.Label(), "error", err)
	return err
}

func (s *source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *source) Read(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	reader := s.reader
	active := s.active
	s.mu.Unlock()
	if !active {
		return nil, nil, ErrNotActive
	}
	img, release, err := reader.Read()
	if err != nil {
		return nil, nil, err
	}
	if release == nil {
		release = func() {}
	}
	return img, release, nil
}

func (s *source) Controls() (Controller, bool) {
	c, ok := s.drv.(Controller)
	return c, ok
}

// At most one source is live per process.
var (
	liveMu sync.Mutex
	live   *source
)

func claim(s *source) error {
	liveMu.Lock()
	defer liveMu.Unlock()
	if live != nil && live != s {
		return errors.Wrapf(ErrSourceBusy, "%s holds %s", live.loc, live.drv.Info().Label)
	}
	live = s
	return nil
}

func release(s *source) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if live == s {
		live = nil
	}
}

func recordManaged(d driver.Driver, blob *ccf.File) (video.Reader, error) {
	return d.(driver.VideoRecorder).VideoRecord(blob.Media())
}
