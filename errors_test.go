package framegrab

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestExitCode(t *testing.T) {
	test.That(t, ExitCode(nil), test.ShouldEqual, ExitSuccess)
	test.That(t, ExitCode(errors.New("boom")), test.ShouldEqual, ExitFailure)

	resErr := &ResolutionError{Server: "Xcelera", Err: ErrNoCompatibleResource}
	test.That(t, ExitCode(errors.Wrap(resErr, "starting")), test.ShouldEqual, ExitResolution)
	test.That(t, errors.Is(resErr, ErrNoCompatibleResource), test.ShouldBeTrue)

	codes := map[Stage]int{
		StageSource: ExitCreateSource,
		StagePool:   ExitCreatePool,
		StageEngine: ExitCreateEngine,
		StageSink:   ExitCreateSink,
	}
	seen := map[int]bool{}
	for stage, code := range codes {
		err := &CreateError{Stage: stage, Err: errors.New("nope")}
		test.That(t, ExitCode(err), test.ShouldEqual, code)
		test.That(t, err.Error(), test.ShouldContainSubstring, stage.String())
		seen[code] = true
	}
	test.That(t, seen, test.ShouldHaveLength, 4)

	test.That(t, ExitCode(&ConfigError{errors.New("bad")}), test.ShouldEqual, ExitConfig)
	test.That(t, ExitCode(&TransferError{Err: errors.New("x")}), test.ShouldEqual, ExitFailure)
}

func TestPersistErrorUnwrap(t *testing.T) {
	err := &PersistError{Name: "test.raw", Format: "raw", Err: ErrNoFrameAvailable}
	test.That(t, errors.Is(err, ErrNoFrameAvailable), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "test.raw")
}

func TestNewConfiguration(t *testing.T) {
	_, err := NewConfiguration("", 0, nil)
	test.That(t, ExitCode(err), test.ShouldEqual, ExitConfig)
	_, err = NewConfiguration("srv", -1, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
