package sim

import (
	"image"
	"testing"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/edaniels/framegrab/pixel"
	"github.com/edaniels/framegrab/resource"
)

func TestPatternCycle(t *testing.T) {
	gen := NewPatternGenerator()
	data := gen.Next()
	test.That(t, data, test.ShouldHaveLength, 1024)
	test.That(t, data[0], test.ShouldEqual, uint16(0))
	test.That(t, data[1023], test.ShouldEqual, uint16(1000))

	// roll through half the pattern
	for i := 0; i < 500; i++ {
		data = gen.Next()
	}
	test.That(t, data[0], test.ShouldEqual, uint16(500))
	test.That(t, data[1023], test.ShouldEqual, uint16(1500))

	// and the rest, which wraps
	for i := 0; i < 500; i++ {
		data = gen.Next()
	}
	test.That(t, data[0], test.ShouldEqual, uint16(0))
	test.That(t, data[1023], test.ShouldEqual, uint16(1000))
}

func TestSpectraNoise(t *testing.T) {
	gen := NewSpectraGenerator(7)
	first := gen.Next()
	test.That(t, first, test.ShouldHaveLength, 2048)
	for i := 0; i < 50; i++ {
		data := gen.Next()
		test.That(t, data[0], test.ShouldNotEqual, uint16(0))
		test.That(t, data[2047], test.ShouldNotEqual, uint16(0))
		test.That(t, data[0], test.ShouldBeGreaterThanOrEqualTo, uint16(150))
		test.That(t, data[0], test.ShouldBeLessThanOrEqualTo, uint16(350))
	}
}

func average(data []uint16) float64 {
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	return sum / float64(len(data))
}

func TestSledGainMovesBaseline(t *testing.T) {
	gen := NewSledGenerator(3)
	start := average(gen.Next())
	test.That(t, gen.Next()[1024], test.ShouldBeGreaterThan, gen.Next()[0])

	test.That(t, gen.SetGain(100), test.ShouldBeNil)
	raised := average(gen.Next())
	test.That(t, raised, test.ShouldBeGreaterThan, start+90)

	test.That(t, gen.SetOffset(-100), test.ShouldBeNil)
	back := average(gen.Next())
	test.That(t, back, test.ShouldBeGreaterThan, start-1)
	test.That(t, back, test.ShouldBeLessThan, start+1)
}

func TestManagedDriverLifecycle(t *testing.T) {
	d := NewManagedDriver(Label(ManagedServer, "pattern"), NewPatternGenerator())
	test.That(t, d.Status(), test.ShouldEqual, driver.StateClosed)
	test.That(t, d.Info().Label, test.ShouldEqual, "Sim-Acq/pattern")

	media := prop.Media{Video: prop.Video{Width: 1024, Height: 1}}
	_, err := d.VideoRecord(media)
	test.That(t, errors.Is(err, ErrNotOpen), test.ShouldBeTrue)

	test.That(t, d.Open(), test.ShouldBeNil)
	test.That(t, errors.Is(d.Open(), ErrAlreadyOpen), test.ShouldBeTrue)

	_, err = d.VideoRecord(prop.Media{Video: prop.Video{Width: 2048, Height: 1}})
	test.That(t, err, test.ShouldNotBeNil)

	reader, err := d.VideoRecord(media)
	test.That(t, err, test.ShouldBeNil)
	img, release, err := reader.Read()
	test.That(t, err, test.ShouldBeNil)
	release()
	gray := img.(*image.Gray16)
	test.That(t, gray.Bounds().Dx(), test.ShouldEqual, 1024)
	test.That(t, gray.Gray16At(1023, 0).Y, test.ShouldEqual, uint16(1000))

	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, d.Counts(), test.ShouldResemble, Counts{Opened: 1, Closed: 1, Reads: 1})

	test.That(t, errors.Is(d.SetGain(1), ErrNoControl), test.ShouldBeTrue)
}

func TestRawDriverFailures(t *testing.T) {
	d := NewRawDriver(Label(RawServer, "sled"), NewSledGenerator(1))
	media := prop.Media{Video: prop.Video{Width: 2048, Height: 1, FrameFormat: pixel.FormatGray16LE}}

	boom := errors.New("no camera link")
	d.SetFailures(Failures{Open: boom})
	test.That(t, d.Open(), test.ShouldEqual, boom)

	d.SetFailures(Failures{Read: boom})
	test.That(t, d.Open(), test.ShouldBeNil)
	_, err := d.RawRecord(prop.Media{Video: prop.Video{Width: 2048, Height: 1, FrameFormat: "YUY2"}})
	test.That(t, err, test.ShouldNotBeNil)

	reader, err := d.RawRecord(media)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = reader.ReadRaw()
	test.That(t, err, test.ShouldEqual, boom)

	d.SetFailures(Failures{})
	data, _, err := reader.ReadRaw()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, 4096)
	test.That(t, d.SetGain(10), test.ShouldBeNil)
}

func TestDirectory(t *testing.T) {
	dir := Directory()
	test.That(t, dir.Servers(), test.ShouldResemble, []string{ManagedServer, RawServer})
	d, err := dir.Resource(ManagedServer, resource.Acquisition, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Info().Label, test.ShouldEqual, "Sim-Acq/pattern")
}
