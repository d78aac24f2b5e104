package resource

import (
	"github.com/edaniels/golog"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
)

// Resolve decides which acquisition variant to construct for the configuration and
// constructs it. Managed acquisition is preferred over a raw device. No resource is
// claimed; the returned source still has to be created.
func Resolve(dir Directory, cfg framegrab.Configuration, logger golog.Logger) (acquisition.Source, error) {
	server := cfg.ServerName()
	loc := acquisition.Location{Server: server, Index: cfg.ResourceIndex()}

	var (
		class   Class
		variant acquisition.Variant
	)
	for _, candidate := range []Class{Acquisition, AcqDevice} {
		count, err := dir.ResourceCount(server, candidate)
		if err != nil {
			return nil, &framegrab.ResolutionError{Server: server, Err: err}
		}
		logger.Debugw("resource count", "server", server, "class", candidate, "count", count)
		if count > 0 {
			class = candidate
			break
		}
	}
	switch class {
	case Acquisition:
		variant = acquisition.Managed
	case AcqDevice:
		variant = acquisition.RawDevice
	default:
		return nil, &framegrab.ResolutionError{Server: server, Err: framegrab.ErrNoCompatibleResource}
	}

	d, err := dir.Resource(server, class, loc.Index)
	if err != nil {
		return nil, &framegrab.ResolutionError{Server: server, Err: err}
	}

	var src acquisition.Source
	if variant == acquisition.Managed {
		src, err = acquisition.NewManaged(d, loc, cfg.Blob(), logger)
	} else {
		src, err = acquisition.NewRawDevice(d, loc, cfg.Blob(), logger)
	}
	if err != nil {
		return nil, &framegrab.ResolutionError{Server: server, Err: err}
	}
	logger.Infow("resolved source", "server", server, "index", loc.Index, "variant", variant, "label", d.Info().Label)
	return src, nil
}
