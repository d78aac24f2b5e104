// Package resource resolves acquisition sources from the servers that expose them.
package resource

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pkg/errors"
)

// A Class is a capability class of resources at a server.
type Class int

const (
	// Acquisition resources process frames on board.
	Acquisition Class = iota + 1
	// AcqDevice resources are bare devices whose frames are processed by the host.
	AcqDevice
)

func (c Class) String() string {
	switch c {
	case Acquisition:
		return "Acquisition"
	case AcqDevice:
		return "AcqDevice"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// LabelSeparator separates the server part of a driver label from the resource name.
const LabelSeparator = "/"

// ErrIndexOutOfRange happens when a resource index exceeds the resources of a class.
var ErrIndexOutOfRange = errors.New("resource index out of range")

// A Directory answers which resources a server exposes.
type Directory interface {
	// Servers returns the names of all known servers.
	Servers() []string
	// ResourceCount returns how many resources of a class the server exposes.
	ResourceCount(server string, class Class) (int, error)
	// Resource returns the driver of the resource at index among those of the class.
	Resource(server string, class Class, index int) (driver.Driver, error)
}

// ServerOf returns the server a driver label belongs to. An unqualified label is a
// server of its own.
func ServerOf(label string) string {
	if i := strings.Index(label, LabelSeparator); i > 0 {
		return label[:i]
	}
	return label
}

func sortByLabel(drivers []driver.Driver) {
	sort.SliceStable(drivers, func(i, j int) bool {
		return drivers[i].Info().Label < drivers[j].Info().Label
	})
}

func pick(server string, class Class, drivers []driver.Driver, index int) (driver.Driver, error) {
	if index < 0 || index >= len(drivers) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%s has %d %s resources, index %d",
			server, len(drivers), class, index)
	}
	return drivers[index], nil
}

// A StaticDirectory is a fixed table of resources.
type StaticDirectory struct {
	mu      sync.Mutex
	servers map[string]map[Class][]driver.Driver
}

// NewStaticDirectory returns an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{servers: map[string]map[Class][]driver.Driver{}}
}

// Add makes the drivers available as resources of the class at server, after
// any already added.
func (sd *StaticDirectory) Add(server string, class Class, drivers ...driver.Driver) *StaticDirectory {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	classes, ok := sd.servers[server]
	if !ok {
		classes = map[Class][]driver.Driver{}
		sd.servers[server] = classes
	}
	classes[class] = append(classes[class], drivers...)
	return sd
}

// Servers returns the names of all servers, sorted.
func (sd *StaticDirectory) Servers() []string {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	names := make([]string, 0, len(sd.servers))
	for name := range sd.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceCount returns how many resources of a class the server has.
func (sd *StaticDirectory) ResourceCount(server string, class Class) (int, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return len(sd.servers[server][class]), nil
}

// Resource returns the resource at index in insertion order.
func (sd *StaticDirectory) Resource(server string, class Class, index int) (driver.Driver, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return pick(server, class, sd.servers[server][class], index)
}

var rawDevices = struct {
	mu      sync.Mutex
	drivers []driver.Driver
}{}

// RegisterRawDevice makes a raw device driver visible to DriverDirectory. The driver
// manager of mediadevices only holds video and audio recorders, so raw devices are
// kept here.
func RegisterRawDevice(d driver.Driver) {
	rawDevices.mu.Lock()
	rawDevices.drivers = append(rawDevices.drivers, d)
	rawDevices.mu.Unlock()
}

// A DriverDirectory exposes the drivers registered with the mediadevices driver manager
// as Acquisition resources and the registered raw devices as AcqDevice resources. The
// server of a driver is derived from its label with ServerOf.
type DriverDirectory struct {
	manager *driver.Manager
}

// NewDriverDirectory returns a directory over the global driver manager.
func NewDriverDirectory() *DriverDirectory {
	return &DriverDirectory{manager: driver.GetManager()}
}

func (dd *DriverDirectory) managed() []driver.Driver {
	filter := driver.FilterAnd(
		driver.FilterVideoRecorder(),
		driver.FilterNot(driver.FilterDeviceType(driver.Screen)),
	)
	return dd.manager.Query(filter)
}

func (dd *DriverDirectory) raw() []driver.Driver {
	rawDevices.mu.Lock()
	defer rawDevices.mu.Unlock()
	return append([]driver.Driver(nil), rawDevices.drivers...)
}

func (dd *DriverDirectory) drivers(server string, class Class) []driver.Driver {
	var all []driver.Driver
	switch class {
	case Acquisition:
		all = dd.managed()
	case AcqDevice:
		all = dd.raw()
	}
	var matched []driver.Driver
	for _, d := range all {
		if ServerOf(d.Info().Label) == server {
			matched = append(matched, d)
		}
	}
	sortByLabel(matched)
	return matched
}

// Servers returns the servers of every known driver, sorted.
func (dd *DriverDirectory) Servers() []string {
	seen := map[string]struct{}{}
	for _, d := range append(dd.managed(), dd.raw()...) {
		seen[ServerOf(d.Info().Label)] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceCount returns how many drivers of a class belong to the server.
func (dd *DriverDirectory) ResourceCount(server string, class Class) (int, error) {
	return len(dd.drivers(server, class)), nil
}

// Resource returns the driver at index among the server's drivers of a class, ordered by label.
func (dd *DriverDirectory) Resource(server string, class Class, index int) (driver.Driver, error) {
	return pick(server, class, dd.drivers(server, class), index)
}
