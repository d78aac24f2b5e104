// Package pipe drives a grab console over its standard input and output, the way host
// software talks to a frame grabber it does not link against.
package pipe

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/edaniels/framegrab/console"
)

// Prefixes of the failure lines a console prints.
const (
	snapFailedPrefix = "snap failed:"
	saveFailedPrefix = "save failed:"
)

// closeAttempts bounds how many quit tokens Close writes.
const closeAttempts = 10

var (
	// ErrSnapFailed happens when the console reports a failed snap. The saved file then
	// holds an older frame.
	ErrSnapFailed = errors.New("console reported a failed snap")
	// ErrSaveFailed happens when the console reports a failed save.
	ErrSaveFailed = errors.New("console reported a failed save")
	// ErrShortFrame happens when the saved file holds fewer pixels than expected.
	ErrShortFrame = errors.New("frame file too short")
)

// Options configure a client.
type Options struct {
	// Pixels is the number of pixels of a frame. Zero takes the whole file.
	Pixels int
	// DataPath is the file the console saves frames to.
	DataPath string
	// QuitToken ends the console. Defaults to console.DefaultQuitToken.
	QuitToken string
}

// A Client grabs frames through a console.
type Client struct {
	mu       sync.Mutex
	console  *console.Console
	in       io.WriteCloser
	cmd      *exec.Cmd
	opts     Options
	atRepeat bool
	pending  []string
	closed   bool
	logger   golog.Logger
}

// Attach returns a client that reads console output from out and writes input to in.
func Attach(out io.Reader, in io.WriteCloser, opts Options, logger golog.Logger) *Client {
	if opts.QuitToken == "" {
		opts.QuitToken = console.DefaultQuitToken
	}
	return &Client{
		console: console.New(out, in),
		in:      in,
		opts:    opts,
		logger:  logger.Named("pipe"),
	}
}

// Start runs the console program at path with args and attaches to it.
func Start(ctx context.Context, path string, args []string, opts Options, logger golog.Logger) (*Client, error) {
	//nolint:gosec
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	logger.Infow("starting console", "path", path, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", path)
	}
	c := Attach(out, in, opts, logger)
	c.cmd = cmd
	return c, nil
}

func (c *Client) write(text string) error {
	c.logger.Debugw("WR", "line", text)
	_, err := io.WriteString(c.in, text+"\n")
	return err
}

// expect reads lines until one starts with one of the prefixes and returns it. Other
// lines are logged and skipped; a snap failure report is remembered in snapErr.
func (c *Client) expect(ctx context.Context, snapErr *error, prefixes ...string) (string, error) {
	for {
		line, err := c.console.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		c.logger.Debugw("READ", "line", line)
		for _, prefix := range prefixes {
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		}
		if snapErr != nil && strings.HasPrefix(line, snapFailedPrefix) {
			*snapErr = errors.Wrap(ErrSnapFailed, strings.TrimSpace(strings.TrimPrefix(line, snapFailedPrefix)))
			continue
		}
		c.logger.Debugw("skipping unexpected line", "line", line)
	}
}

// SetGain makes the console apply gain before the next grab. Each queued command costs
// the console one extra snap and save cycle.
func (c *Client) SetGain(gain int) {
	c.queue(console.CommandGain + " " + strconv.Itoa(gain))
}

// SetOffset makes the console apply offset before the next grab.
func (c *Client) SetOffset(offset int) {
	c.queue(console.CommandOffset + " " + strconv.Itoa(offset))
}

func (c *Client) queue(command string) {
	c.mu.Lock()
	c.pending = append(c.pending, command)
	c.mu.Unlock()
}

// Grab runs one snap and save cycle and returns the pixels of the saved frame, along
// with the frame number the console reported.
func (c *Client) Grab(ctx context.Context) ([]uint16, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, errors.New("client closed")
	}

	// commands are entered at a repeat prompt, so one cycle reaches the first
	if !c.atRepeat && len(c.pending) > 0 {
		if err := c.cycle(ctx); err != nil {
			return nil, 0, err
		}
	}
	// one queued command answers each repeat prompt
	for c.atRepeat {
		answer := ""
		if len(c.pending) > 0 {
			answer, c.pending = c.pending[0], c.pending[1:]
		}
		if err := c.write(answer); err != nil {
			return nil, 0, err
		}
		c.atRepeat = false
		if len(c.pending) > 0 {
			if err := c.cycle(ctx); err != nil {
				return nil, 0, err
			}
		}
	}

	var snapErr error
	if _, err := c.expect(ctx, nil, console.PromptSnap); err != nil {
		return nil, 0, err
	}
	if err := c.write(""); err != nil {
		return nil, 0, err
	}
	if _, err := c.expect(ctx, &snapErr, console.PromptSave); err != nil {
		return nil, 0, err
	}
	if err := c.write(""); err != nil {
		return nil, 0, err
	}
	line, err := c.expect(ctx, nil, console.FramePrefix, saveFailedPrefix)
	if err != nil {
		return nil, 0, err
	}
	var saveErr error
	frameNum := -1
	if strings.HasPrefix(line, saveFailedPrefix) {
		saveErr = errors.Wrap(ErrSaveFailed, strings.TrimSpace(strings.TrimPrefix(line, saveFailedPrefix)))
	} else if frameNum, err = strconv.Atoi(strings.TrimPrefix(line, console.FramePrefix)); err != nil {
		return nil, 0, errors.Wrapf(err, "frame line %q", line)
	}
	if _, err := c.expect(ctx, nil, console.PromptRepeat); err != nil {
		return nil, 0, err
	}
	c.atRepeat = true

	if saveErr != nil || snapErr != nil {
		return nil, frameNum, multierr.Combine(snapErr, saveErr)
	}
	data, err := c.readFrame()
	return data, frameNum, err
}

// cycle answers a full snap and save cycle without reading the frame.
func (c *Client) cycle(ctx context.Context) error {
	for _, prompt := range []string{console.PromptSnap, console.PromptSave} {
		if _, err := c.expect(ctx, nil, prompt); err != nil {
			return err
		}
		if err := c.write(""); err != nil {
			return err
		}
	}
	if _, err := c.expect(ctx, nil, console.PromptRepeat); err != nil {
		return err
	}
	c.atRepeat = true
	return nil
}

func (c *Client) readFrame() ([]uint16, error) {
	data, err := os.ReadFile(c.opts.DataPath)
	if err != nil {
		return nil, err
	}
	pixels := c.opts.Pixels
	if pixels == 0 {
		pixels = len(data) / 2
	}
	if len(data) < 2*pixels {
		return nil, errors.Wrapf(ErrShortFrame, "%s has %d bytes, need %d", c.opts.DataPath, len(data), 2*pixels)
	}
	out := make([]uint16, pixels)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return out, nil
}

// Close ends the console by entering the quit token and waits for a started console to exit.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	attempts := closeAttempts
	if c.atRepeat {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := c.write(c.opts.QuitToken); err != nil {
			// the console is gone
			break
		}
	}
	err := c.in.Close()
	if c.cmd != nil {
		err = multierr.Combine(err, c.cmd.Wait())
	}
	c.logger.Info("closed")
	return err
}
