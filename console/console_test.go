package console_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/console"
	"github.com/edaniels/framegrab/pipeline"
	"github.com/edaniels/framegrab/sim"
	"github.com/edaniels/framegrab/sink"
)

type device interface {
	SetGate(gate <-chan struct{})
}

func assemble(t *testing.T, raw bool, opts sink.Options) (*pipeline.Pipeline, device) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	blob, err := ccf.Parse("sled.ccf", []byte("Crop Width=2048\n"))
	test.That(t, err, test.ShouldBeNil)
	var (
		src acquisition.Source
		dev device
	)
	if raw {
		d := sim.NewRawDriver(sim.Label(sim.RawServer, "sled"), sim.NewSledGenerator(1))
		src, err = acquisition.NewRawDevice(d, acquisition.Location{Server: sim.RawServer}, blob, logger)
		dev = d
	} else {
		d := sim.NewManagedDriver(sim.Label(sim.ManagedServer, "sled"), sim.NewSledGenerator(1))
		src, err = acquisition.NewManaged(d, acquisition.Location{Server: sim.ManagedServer}, blob, logger)
		dev = d
	}
	test.That(t, err, test.ShouldBeNil)
	p, err := pipeline.Assemble(context.Background(), src, pipeline.Options{Sink: opts}, logger)
	test.That(t, err, test.ShouldBeNil)
	return p, dev
}

func outputLines(out *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
}

func TestSnapSaveQuit(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.raw")
	p, _ := assemble(t, false, sink.Options{Name: name})

	var out bytes.Buffer
	loop := &console.Loop{
		Console: console.New(strings.NewReader("\n\nq\n"), &out),
		Engine:  p.Engine,
		Sink:    p.Sink,
		Logger:  golog.NewTestLogger(t),
	}
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	test.That(t, outputLines(&out), test.ShouldResemble, []string{
		console.PromptSnap,
		console.PromptSave,
		"frame: 0",
		console.PromptRepeat,
	})
	test.That(t, p.Sink.LastSavedIndex(), test.ShouldEqual, 1)
	data, err := os.ReadFile(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, 4096)
	test.That(t, p.Teardown(context.Background()), test.ShouldBeNil)
	test.That(t, p.Source.Active(), test.ShouldBeFalse)
}

func TestRepeatUntilEOF(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.raw")
	p, _ := assemble(t, false, sink.Options{Name: name})
	defer p.Teardown(context.Background())

	var out bytes.Buffer
	loop := &console.Loop{
		Console:   console.New(strings.NewReader("\n\n\n\n\nx\n\n"), &out),
		Engine:    p.Engine,
		Sink:      p.Sink,
		QuitToken: "quit",
	}
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	lines := outputLines(&out)
	test.That(t, lines[2], test.ShouldEqual, "frame: 0")
	test.That(t, lines[6], test.ShouldEqual, "frame: 1")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, console.PromptSave)
	test.That(t, p.Sink.LastSavedIndex(), test.ShouldEqual, 2)
}

// flakyEngine rejects the snaps whose number is in fail.
type flakyEngine struct {
	console.Engine
	mu   sync.Mutex
	n    int
	fail map[int]bool
}

func (fe *flakyEngine) Snap(ctx context.Context) (string, error) {
	fe.mu.Lock()
	fe.n++
	fail := fe.fail[fe.n]
	fe.mu.Unlock()
	if fail {
		return "", &framegrab.TransferError{Err: errors.New("hardware fault")}
	}
	return fe.Engine.Snap(ctx)
}

// flakySink fails the saves whose number is in fail.
type flakySink struct {
	console.Sink
	mu   sync.Mutex
	n    int
	fail map[int]bool
}

func (fs *flakySink) Save() (string, error) {
	fs.mu.Lock()
	fs.n++
	fail := fs.fail[fs.n]
	fs.mu.Unlock()
	if fail {
		return "", &framegrab.PersistError{Name: "test.raw", Format: "raw", Err: errors.New("disk full")}
	}
	return fs.Sink.Save()
}

func TestCounterCountsSuccessfulSaves(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.raw")
	p, _ := assemble(t, false, sink.Options{Name: name})
	defer p.Teardown(context.Background())

	// snap 1 fails so save 1 has no frame, save 4 fails on its own
	engine := &flakyEngine{Engine: p.Engine, fail: map[int]bool{1: true, 3: true}}
	saver := &flakySink{Sink: p.Sink, fail: map[int]bool{4: true}}
	input := strings.Repeat("\n\n\n", 5) + "\n\nq\n"
	var out bytes.Buffer
	loop := &console.Loop{
		Console: console.New(strings.NewReader(input), &out),
		Engine:  engine,
		Sink:    saver,
	}
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	test.That(t, p.Sink.LastSavedIndex(), test.ShouldEqual, 4)

	text := out.String()
	test.That(t, strings.Count(text, "snap failed:"), test.ShouldEqual, 2)
	test.That(t, strings.Count(text, "save failed:"), test.ShouldEqual, 2)
	test.That(t, text, test.ShouldContainSubstring, "no frame available")
	test.That(t, strings.Count(text, console.FramePrefix), test.ShouldEqual, 4)
	test.That(t, text, test.ShouldContainSubstring, "frame: 3")
}

func TestSnapTimeout(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.raw")
	p, dev := assemble(t, false, sink.Options{Name: name})
	gate := make(chan struct{})
	dev.SetGate(gate)

	var out bytes.Buffer
	loop := &console.Loop{
		Console:     console.New(strings.NewReader("\n\n\n\n\nq\n"), &out),
		Engine:      p.Engine,
		Sink:        p.Sink,
		SnapTimeout: 10 * time.Millisecond,
	}
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	text := out.String()
	test.That(t, text, test.ShouldContainSubstring, "context deadline exceeded")
	test.That(t, text, test.ShouldContainSubstring, "transfer in progress")
	test.That(t, p.Sink.LastSavedIndex(), test.ShouldEqual, 0)

	close(gate)
	test.That(t, p.Teardown(context.Background()), test.ShouldBeNil)
}

func TestControlCommands(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.raw")
	p, _ := assemble(t, true, sink.Options{Name: name})
	defer p.Teardown(context.Background())

	ctrl, ok := p.Source.Controls()
	test.That(t, ok, test.ShouldBeTrue)
	reg := framegrab.NewCommandRegistry()
	console.AddControlCommands(reg, ctrl)
	test.That(t, reg.Names(), test.ShouldResemble, []string{"gain", "offset"})

	var out bytes.Buffer
	loop := &console.Loop{
		Console:  console.New(strings.NewReader("\n\ngain 100\n\n\noffset x\n\n\nhelp\n\n\nq\n"), &out),
		Engine:   p.Engine,
		Sink:     p.Sink,
		Registry: reg,
	}
	test.That(t, loop.Run(context.Background()), test.ShouldBeNil)
	text := out.String()
	test.That(t, text, test.ShouldContainSubstring, "gain set to 100")
	test.That(t, text, test.ShouldContainSubstring, "offset failed:")
	test.That(t, text, test.ShouldContainSubstring, "malformed command")
	test.That(t, text, test.ShouldContainSubstring, "\ngain N\noffset N\n")
	test.That(t, p.Sink.LastSavedIndex(), test.ShouldEqual, 4)
}

func TestCanceled(t *testing.T) {
	p, _ := assemble(t, false, sink.Options{Name: filepath.Join(t.TempDir(), "test.raw")})
	defer p.Teardown(context.Background())

	reader, writer := io.Pipe()
	defer writer.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	loop := &console.Loop{Console: console.New(reader, &out), Engine: p.Engine, Sink: p.Sink}
	test.That(t, errors.Is(loop.Run(ctx), context.Canceled), test.ShouldBeTrue)
}

func TestAskOptions(t *testing.T) {
	var out bytes.Buffer
	c := console.New(strings.NewReader("9\nSim-Device\n-1\n\n\nconfigs/cobra.ccf\n"), &out)
	opts, err := c.AskOptions(context.Background(), sim.Directory())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts, test.ShouldResemble, console.Options{
		ServerName:    sim.RawServer,
		ResourceIndex: 0,
		ConfigPath:    "configs/cobra.ccf",
	})
	text := out.String()
	test.That(t, text, test.ShouldContainSubstring, "1: Sim-Acq (3 Acquisition, 0 AcqDevice)")
	test.That(t, text, test.ShouldContainSubstring, "Invalid server: 9")
	test.That(t, text, test.ShouldContainSubstring, "Invalid index: -1")

	c = console.New(strings.NewReader("1\n2\n"), &out)
	_, err = c.AskOptions(context.Background(), sim.Directory())
	test.That(t, err, test.ShouldNotBeNil)
}
