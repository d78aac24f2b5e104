package framegrab

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoCompatibleResource happens when a server exposes neither an Acquisition
	// nor an AcqDevice resource.
	ErrNoCompatibleResource = errors.New("no compatible acquisition resource")

	// ErrNoFrameAvailable happens when a frame is persisted before any transfer completed.
	ErrNoFrameAvailable = errors.New("no frame available")
)

// A Stage names one of the four pipeline resources in creation order.
type Stage int

// The pipeline stages, in the order they are created.
const (
	StageSource Stage = iota + 1
	StagePool
	StageEngine
	StageSink
)

func (s Stage) String() string {
	switch s {
	case StageSource:
		return "source"
	case StagePool:
		return "buffer pool"
	case StageEngine:
		return "transfer engine"
	case StageSink:
		return "frame sink"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// A ResolutionError is returned when no acquisition source can be resolved at a server.
type ResolutionError struct {
	Server string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving source at server %q: %v", e.Server, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// A CreateError is returned when a pipeline stage fails to claim or allocate its resource.
type CreateError struct {
	Stage Stage
	Err   error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("error during %s creation: %v", e.Stage, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// A TransferError is returned when a snap is rejected or the hardware fails to deliver a frame.
type TransferError struct {
	ID  string
	Err error
}

func (e *TransferError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("transfer failed: %v", e.Err)
	}
	return fmt.Sprintf("transfer %s failed: %v", e.ID, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// A PersistError is returned when a frame could not be encoded or written.
type PersistError struct {
	Name   string
	Format string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("saving %q as %s: %v", e.Name, e.Format, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// A ConfigError is returned when the run could not be configured.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Process exit codes.
const (
	ExitSuccess = iota
	ExitFailure
	ExitResolution
	ExitCreateSource
	ExitCreatePool
	ExitCreateEngine
	ExitCreateSink
	ExitConfig
)

// ExitCode maps an error returned by a run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return ExitResolution
	}
	var createErr *CreateError
	if errors.As(err, &createErr) {
		switch createErr.Stage {
		case StageSource:
			return ExitCreateSource
		case StagePool:
			return ExitCreatePool
		case StageEngine:
			return ExitCreateEngine
		case StageSink:
			return ExitCreateSink
		}
	}
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return ExitConfig
	}
	return ExitFailure
}
