package sim

import (
	"sync"

	"github.com/pion/mediadevices/pkg/driver"
	"go.uber.org/multierr"

	"github.com/edaniels/framegrab/resource"
)

// Servers the simulated devices are registered under.
const (
	ManagedServer = "Sim-Acq"
	RawServer     = "Sim-Device"
)

var registerOnce struct {
	sync.Once
	err error
}

// Generators returns a fresh set of the simulated signal generators by name.
func Generators() map[string]Generator {
	return map[string]Generator{
		"pattern": NewPatternGenerator(),
		"spectra": NewSpectraGenerator(1),
		"sled":    NewSledGenerator(1),
	}
}

// Label returns the label of the simulated resource name at server.
func Label(server, name string) string {
	return server + resource.LabelSeparator + name
}

// Register installs every simulated generator as a managed driver with the mediadevices
// driver manager and as a raw device with the resource directory. Registering more than
// once has no effect.
func Register() error {
	registerOnce.Do(func() {
		for name, gen := range Generators() {
			label := Label(ManagedServer, name)
			registerOnce.err = multierr.Append(registerOnce.err, driver.GetManager().Register(
				NewManagedDriver(label, gen),
				driver.Info{Label: label, DeviceType: driver.Camera},
			))
		}
		for name, gen := range Generators() {
			resource.RegisterRawDevice(NewRawDriver(Label(RawServer, name), gen))
		}
	})
	return registerOnce.err
}

// Directory returns a static directory holding a fresh set of simulated devices, with
// resources ordered pattern, sled, spectra as they are in a DriverDirectory.
func Directory() *resource.StaticDirectory {
	dir := resource.NewStaticDirectory()
	for _, name := range []string{"pattern", "sled", "spectra"} {
		gen := Generators()[name]
		dir.Add(ManagedServer, resource.Acquisition, NewManagedDriver(Label(ManagedServer, name), gen))
	}
	for _, name := range []string{"pattern", "sled", "spectra"} {
		gen := Generators()[name]
		dir.Add(RawServer, resource.AcqDevice, NewRawDriver(Label(RawServer, name), gen))
	}
	return dir
}
