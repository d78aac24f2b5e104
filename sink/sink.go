// Package sink consumes completed transfers: it shows each frame on a set of displays
// and persists the buffered frame on request.
package sink

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/edaniels/framegrab/buffer"
	"github.com/edaniels/framegrab/codec"
	"github.com/edaniels/framegrab/transfer"
)

// Defaults for persisting frames.
const (
	DefaultName   = "test.raw"
	DefaultFormat = codec.FormatRaw
)

var (
	// ErrPoolInactive happens when a sink is created over a pool that is not created.
	ErrPoolInactive = errors.New("buffer pool not active")
	// ErrNotCreated happens when a sink that is not created is asked to save.
	ErrNotCreated = errors.New("frame sink not created")
)

// A Frame is a completed transfer as shown on a display.
type Frame struct {
	codec.Frame
	ID    string
	Index int
	Time  time.Time
	Image image.Image
}

// A Display shows frames.
type Display interface {
	Name() string
	Show(ctx context.Context, f Frame) error
}

// A Starter is a display that has to be started before it shows frames. Displays that
// need stopping implement Close(ctx).
type Starter interface {
	Start(ctx context.Context) error
}

// Options configure a sink.
type Options struct {
	Displays []Display
	// Name is the file frames are saved to.
	Name string
	// Format is the encoder format frames are saved in.
	Format string
	// Retain saves every frame to its own file instead of overwriting Name.
	Retain bool
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	return o
}

// A Sink displays and persists the frames of a pool.
type Sink struct {
	mu             sync.Mutex
	pool           *buffer.Pool
	opts           Options
	started        []Display
	lastSavedIndex int
	shown          int
	active         bool
	logger         golog.Logger
}

// New returns a sink over pool. Displays are not started until Create.
func New(pool *buffer.Pool, opts Options, logger golog.Logger) *Sink {
	return &Sink{
		pool:   pool,
		opts:   opts.withDefaults(),
		logger: logger.Named("sink"),
	}
}

// Create starts the displays. The pool must be created.
func (s *Sink) Create(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	if s.pool == nil || !s.pool.Active() {
		return ErrPoolInactive
	}
	var started []Display
	defer func() {
		if err != nil {
			err = multierr.Combine(err, stopDisplays(ctx, started))
		}
	}()
	for _, d := range s.opts.Displays {
		if starter, ok := d.(Starter); ok {
			if err := starter.Start(ctx); err != nil {
				return errors.Wrapf(err, "starting display %s", d.Name())
			}
		}
		started = append(started, d)
	}
	s.started = started
	s.active = true
	s.logger.Debugw("created", "displays", len(started), "name", s.opts.Name, "format", s.opts.Format)
	return nil
}

func stopDisplays(ctx context.Context, displays []Display) error {
	var err error
	for i := len(displays) - 1; i >= 0; i-- {
		err = multierr.Append(err, utils.TryClose(ctx, displays[i]))
	}
	return err
}

// Destroy stops the displays. It does nothing on a sink that is not created.
func (s *Sink) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	err := stopDisplays(ctx, s.started)
	s.started = nil
	s.logger.Debugw("destroyed", "shown", s.shown, "saved", s.lastSavedIndex)
	return err
}

// Active returns whether the sink is created.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// HandleEndOfFrame shows the buffered frame of a completed transfer on every display.
// Display failures are logged.
func (s *Sink) HandleEndOfFrame(n transfer.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	buffered, err := s.pool.Frame()
	if err != nil {
		s.logger.Errorw("no frame to show", "id", n.ID, "error", err)
		return
	}
	img, err := buffered.Image()
	if err != nil {
		s.logger.Errorw("cannot show frame", "id", n.ID, "error", err)
		return
	}
	f := Frame{Frame: buffered, ID: n.ID, Index: n.Index, Time: n.Time, Image: img}
	for _, d := range s.started {
		if err := d.Show(context.Background(), f); err != nil {
			s.logger.Errorw("display failed", "display", d.Name(), "id", n.ID, "error", err)
		}
	}
	s.shown++
}

// Save persists the buffered frame and returns the name of the file written. The saved
// frame counter advances on success only.
func (s *Sink) Save() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return "", ErrNotCreated
	}
	name := s.opts.Name
	if s.opts.Retain {
		name = RetainedName(s.opts.Name, s.lastSavedIndex)
	}
	if err := s.pool.Save(name, s.opts.Format); err != nil {
		return "", err
	}
	s.lastSavedIndex++
	s.logger.Debugw("saved", "name", name, "count", s.lastSavedIndex)
	return name, nil
}

// LastSavedIndex returns how many frames were saved.
func (s *Sink) LastSavedIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedIndex
}

// Name returns the name frames are saved under.
func (s *Sink) Name() string {
	return s.opts.Name
}

// RetainedName returns the file name the frame at index is retained under: test.raw
// becomes test-0000.raw, test-0001.raw and so on.
func RetainedName(name string, index int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%04d%s", strings.TrimSuffix(name, ext), index, ext)
}
