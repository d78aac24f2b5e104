package buffer_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/buffer"
	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/sim"
)

func patternSource(t *testing.T) acquisition.Source {
	t.Helper()
	logger := golog.NewTestLogger(t)
	blob, err := ccf.Parse("pattern.ccf", []byte("Crop Width=1024\nPixel Depth=16\n"))
	test.That(t, err, test.ShouldBeNil)
	d := sim.NewRawDriver(sim.Label(sim.RawServer, "pattern"), sim.NewPatternGenerator())
	src, err := acquisition.NewRawDevice(d, acquisition.Location{Server: sim.RawServer}, blob, logger)
	test.That(t, err, test.ShouldBeNil)
	return src
}

func snap(t *testing.T, src acquisition.Source, pool *buffer.Pool) {
	t.Helper()
	img, release, err := src.Read(context.Background())
	test.That(t, err, test.ShouldBeNil)
	defer release()
	_, err = pool.Write(img)
	test.That(t, err, test.ShouldBeNil)
}

func TestCreateNeedsActiveSource(t *testing.T) {
	src := patternSource(t)
	pool := buffer.NewPool(src, buffer.Options{}, golog.NewTestLogger(t))
	err := pool.Create(context.Background())
	test.That(t, errors.Is(err, buffer.ErrSourceInactive), test.ShouldBeTrue)
	test.That(t, pool.Active(), test.ShouldBeFalse)
	test.That(t, pool.Destroy(context.Background()), test.ShouldBeNil)

	_, err = pool.Write(image.NewGray16(image.Rect(0, 0, 1024, 1)))
	test.That(t, errors.Is(err, buffer.ErrNotCreated), test.ShouldBeTrue)
}

func TestScatterGather(t *testing.T) {
	src := patternSource(t)
	test.That(t, src.Create(context.Background()), test.ShouldBeNil)
	defer src.Destroy(context.Background())

	pool := buffer.NewPool(src, buffer.Options{FragmentSize: 100}, golog.NewTestLogger(t))
	test.That(t, pool.Create(context.Background()), test.ShouldBeNil)
	test.That(t, errors.Is(pool.Create(context.Background()), buffer.ErrAlreadyCreated), test.ShouldBeTrue)
	test.That(t, pool.FrameSize(), test.ShouldEqual, 2048)
	test.That(t, pool.Fragments(), test.ShouldEqual, 21)
	test.That(t, pool.Filled(), test.ShouldBeFalse)

	_, err := pool.Frame()
	test.That(t, errors.Is(err, framegrab.ErrNoFrameAvailable), test.ShouldBeTrue)

	snap(t, src, pool)
	test.That(t, pool.Filled(), test.ShouldBeTrue)

	var buf bytes.Buffer
	n, err := pool.WriteTo(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, int64(2048))
	test.That(t, binary.LittleEndian.Uint16(buf.Bytes()[0:]), test.ShouldEqual, uint16(0))
	test.That(t, binary.LittleEndian.Uint16(buf.Bytes()[2046:]), test.ShouldEqual, uint16(1000))

	img, err := pool.Image()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.(*image.Gray16).Gray16At(1023, 0).Y, test.ShouldEqual, uint16(1000))

	// a geometry other than the source's
	_, err = pool.Write(image.NewGray16(image.Rect(0, 0, 10, 1)))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, pool.Destroy(context.Background()), test.ShouldBeNil)
	test.That(t, pool.Fragments(), test.ShouldEqual, 0)
	test.That(t, pool.Filled(), test.ShouldBeFalse)
}

func TestContiguousRing(t *testing.T) {
	src := patternSource(t)
	test.That(t, src.Create(context.Background()), test.ShouldBeNil)
	defer src.Destroy(context.Background())

	pool := buffer.NewPool(src, buffer.Options{Count: 2, Layout: buffer.Contiguous}, golog.NewTestLogger(t))
	test.That(t, pool.Create(context.Background()), test.ShouldBeNil)
	defer pool.Destroy(context.Background())
	test.That(t, pool.Fragments(), test.ShouldEqual, 1)

	for want := 0; want < 3; want++ {
		img, release, err := src.Read(context.Background())
		test.That(t, err, test.ShouldBeNil)
		index, err := pool.Write(img)
		release()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, index, test.ShouldEqual, want%2)
	}
	f, err := pool.Frame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, binary.LittleEndian.Uint16(f.Data), test.ShouldEqual, uint16(2))
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "test.raw")

	src := patternSource(t)
	test.That(t, src.Create(context.Background()), test.ShouldBeNil)
	defer src.Destroy(context.Background())
	pool := buffer.NewPool(src, buffer.Options{}, golog.NewTestLogger(t))
	test.That(t, pool.Create(context.Background()), test.ShouldBeNil)
	defer pool.Destroy(context.Background())

	err := pool.Save(name, "-format raw")
	var persistErr *framegrab.PersistError
	test.That(t, errors.As(err, &persistErr), test.ShouldBeTrue)
	test.That(t, persistErr.Format, test.ShouldEqual, "raw")
	test.That(t, errors.Is(err, framegrab.ErrNoFrameAvailable), test.ShouldBeTrue)
	_, statErr := os.Stat(name)
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)

	// an existing file survives a save with nothing captured
	previous := filepath.Join(dir, "previous.raw")
	test.That(t, os.WriteFile(previous, []byte{1, 2, 3, 4}, 0o600), test.ShouldBeNil)
	err = pool.Save(previous, "raw")
	test.That(t, errors.Is(err, framegrab.ErrNoFrameAvailable), test.ShouldBeTrue)
	data, err := os.ReadFile(previous)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{1, 2, 3, 4})
	test.That(t, os.Remove(previous), test.ShouldBeNil)

	snap(t, src, pool)
	test.That(t, pool.Save(name, "-format raw"), test.ShouldBeNil)
	data, err = os.ReadFile(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, 2048)
	test.That(t, binary.LittleEndian.Uint16(data[2046:]), test.ShouldEqual, uint16(1000))

	// overwritten in place
	snap(t, src, pool)
	test.That(t, pool.Save(name, "raw"), test.ShouldBeNil)
	data, err = os.ReadFile(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, binary.LittleEndian.Uint16(data[0:]), test.ShouldEqual, uint16(1))

	test.That(t, pool.Save(filepath.Join(dir, "test.png"), "png"), test.ShouldBeNil)

	err = pool.Save(filepath.Join(dir, "test.crw"), "crw")
	test.That(t, errors.As(err, &persistErr), test.ShouldBeTrue)

	err = pool.Save(filepath.Join(dir, "missing", "test.raw"), "raw")
	test.That(t, errors.As(err, &persistErr), test.ShouldBeTrue)

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 2)
}
