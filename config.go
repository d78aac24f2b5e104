package framegrab

import (
	"github.com/pkg/errors"

	"github.com/edaniels/framegrab/ccf"
)

// A Configuration describes which source to open and how to configure it. It is
// immutable once constructed.
type Configuration struct {
	serverName    string
	resourceIndex int
	blob          *ccf.File
}

// NewConfiguration returns a Configuration for the resource at index on the named server,
// parameterized by the given configuration blob.
func NewConfiguration(serverName string, resourceIndex int, blob *ccf.File) (Configuration, error) {
	if serverName == "" {
		return Configuration{}, &ConfigError{errors.New("server name is required")}
	}
	if resourceIndex < 0 {
		return Configuration{}, &ConfigError{errors.Errorf("invalid resource index %d", resourceIndex)}
	}
	if blob == nil {
		return Configuration{}, &ConfigError{errors.New("configuration file is required")}
	}
	return Configuration{
		serverName:    serverName,
		resourceIndex: resourceIndex,
		blob:          blob,
	}, nil
}

// ServerName is the identity of the server exposing the source.
func (c Configuration) ServerName() string {
	return c.serverName
}

// ResourceIndex selects a resource among those of the same class at the server.
func (c Configuration) ResourceIndex() int {
	return c.resourceIndex
}

// Blob is the source configuration, passed through to the driver.
func (c Configuration) Blob() *ccf.File {
	return c.blob
}
