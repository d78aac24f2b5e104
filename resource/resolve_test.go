package resource_test

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/resource"
	"github.com/edaniels/framegrab/sim"
)

func configuration(t *testing.T, server string, index int) framegrab.Configuration {
	t.Helper()
	blob, err := ccf.Parse("sled.ccf", []byte("Crop Width=2048\n"))
	test.That(t, err, test.ShouldBeNil)
	cfg, err := framegrab.NewConfiguration(server, index, blob)
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

func TestServerOf(t *testing.T) {
	test.That(t, resource.ServerOf("Xtium-CL_MX4_1/CameraLink_1"), test.ShouldEqual, "Xtium-CL_MX4_1")
	test.That(t, resource.ServerOf("Xtium-CL_MX4_1"), test.ShouldEqual, "Xtium-CL_MX4_1")
	test.That(t, resource.ServerOf("/odd"), test.ShouldEqual, "/odd")
}

func TestResolveNoCompatibleResource(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sled := sim.NewManagedDriver("Sim-Acq/sled", sim.NewSledGenerator(1))
	dir := resource.NewStaticDirectory().Add(sim.ManagedServer, resource.Acquisition, sled)

	_, err := resource.Resolve(dir, configuration(t, "Xtium-CL_MX4_1", 0), logger)
	var resErr *framegrab.ResolutionError
	test.That(t, errors.As(err, &resErr), test.ShouldBeTrue)
	test.That(t, resErr.Server, test.ShouldEqual, "Xtium-CL_MX4_1")
	test.That(t, errors.Is(err, framegrab.ErrNoCompatibleResource), test.ShouldBeTrue)
	test.That(t, framegrab.ExitCode(err), test.ShouldEqual, framegrab.ExitResolution)
	test.That(t, sled.Counts().Opened, test.ShouldEqual, 0)
}

func TestResolvePrefersManaged(t *testing.T) {
	logger := golog.NewTestLogger(t)
	managed := sim.NewManagedDriver("Both/sled", sim.NewSledGenerator(1))
	raw := sim.NewRawDriver("Both/sled-raw", sim.NewSledGenerator(1))
	dir := resource.NewStaticDirectory().
		Add("Both", resource.AcqDevice, raw).
		Add("Both", resource.Acquisition, managed)

	src, err := resource.Resolve(dir, configuration(t, "Both", 0), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Variant(), test.ShouldEqual, acquisition.Managed)
	test.That(t, src.Label(), test.ShouldEqual, "Both/sled")
	test.That(t, src.Active(), test.ShouldBeFalse)
	test.That(t, managed.Counts().Opened, test.ShouldEqual, 0)

	dir = resource.NewStaticDirectory().Add("Device", resource.AcqDevice, raw)
	src, err = resource.Resolve(dir, configuration(t, "Device", 0), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Variant(), test.ShouldEqual, acquisition.RawDevice)
	test.That(t, src.Location(), test.ShouldResemble, acquisition.Location{Server: "Device"})
}

func TestResolveIndex(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := sim.Directory()

	src, err := resource.Resolve(dir, configuration(t, sim.ManagedServer, 2), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Label(), test.ShouldEqual, "Sim-Acq/spectra")

	_, err = resource.Resolve(dir, configuration(t, sim.ManagedServer, 3), logger)
	test.That(t, errors.Is(err, resource.ErrIndexOutOfRange), test.ShouldBeTrue)
	test.That(t, framegrab.ExitCode(err), test.ShouldEqual, framegrab.ExitResolution)
}

func TestDriverDirectory(t *testing.T) {
	test.That(t, sim.Register(), test.ShouldBeNil)
	test.That(t, sim.Register(), test.ShouldBeNil)

	dir := resource.NewDriverDirectory()
	servers := dir.Servers()
	test.That(t, servers, test.ShouldContain, sim.ManagedServer)
	test.That(t, servers, test.ShouldContain, sim.RawServer)

	count, err := dir.ResourceCount(sim.ManagedServer, resource.Acquisition)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 3)
	count, err = dir.ResourceCount(sim.ManagedServer, resource.AcqDevice)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)

	d, err := dir.Resource(sim.RawServer, resource.AcqDevice, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Info().Label, test.ShouldEqual, "Sim-Device/sled")
	test.That(t, d.Info().DeviceType, test.ShouldEqual, driver.Camera)

	logger := golog.NewTestLogger(t)
	src, err := resource.Resolve(dir, configuration(t, sim.RawServer, 1), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Variant(), test.ShouldEqual, acquisition.RawDevice)
}
