// Package console runs the operator command loop over a line oriented terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/transfer"
)

// Prompts written to the operator. A pipe client keys on these.
const (
	PromptSnap   = "Press a key to trigger snap"
	PromptSave   = "Press a key to trigger save"
	PromptRepeat = "File saved, Press a key to repeat, q to quit:"
	FramePrefix  = "frame: "
)

// DefaultQuitToken ends the loop when entered at the repeat prompt.
const DefaultQuitToken = "q"

// An Engine requests frames and waits for them to arrive.
type Engine interface {
	Snap(ctx context.Context) (string, error)
	Wait(ctx context.Context, id string) (transfer.Notification, error)
}

// A Sink persists the frame most recently transferred.
type Sink interface {
	Save() (string, error)
	LastSavedIndex() int
}

type line struct {
	text string
	err  error
}

// A Console reads operator input line by line and writes prompts.
type Console struct {
	in        *bufio.Reader
	out       io.Writer
	lines     chan line
	startOnce sync.Once
}

// New returns a console reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, lines: make(chan line)}
}

func (c *Console) start() {
	c.startOnce.Do(func() {
		utils.PanicCapturingGo(func() {
			for {
				text, err := c.in.ReadString('\n')
				if err != nil && (text == "" || !errors.Is(err, io.EOF)) {
					c.lines <- line{err: err}
					close(c.lines)
					return
				}
				c.lines <- line{text: strings.TrimRight(text, "\r\n")}
			}
		})
	})
}

// ReadLine blocks for the next line of input. At the end of input it returns io.EOF.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	c.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

// Println writes one line to the operator.
func (c *Console) Println(a ...interface{}) {
	fmt.Fprintln(c.out, a...)
}

// Printf writes formatted output to the operator.
func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format, a...)
}

// A Loop is the snap, save, repeat cycle.
type Loop struct {
	Console *Console
	Engine  Engine
	Sink    Sink
	// QuitToken ends the loop at the repeat prompt. Defaults to DefaultQuitToken.
	QuitToken string
	// SnapTimeout bounds the wait for a frame. Zero waits forever.
	SnapTimeout time.Duration
	// Registry holds the commands accepted at the repeat prompt.
	Registry framegrab.CommandRegistry
	Logger   golog.Logger
}

// Run cycles until the quit token is entered or input ends. Failed snaps and saves are
// reported and the cycle goes on.
func (l *Loop) Run(ctx context.Context) error {
	quit := l.QuitToken
	if quit == "" {
		quit = DefaultQuitToken
	}
	logger := l.Logger
	if logger == nil {
		logger = framegrab.Logger
	}
	for {
		l.Console.Println(PromptSnap)
		if _, err := l.Console.ReadLine(ctx); err != nil {
			return endOfInput(err)
		}
		if err := l.snap(ctx); err != nil {
			logger.Debugw("snap failed", "error", err)
			l.Console.Println("snap failed:", err)
		}

		l.Console.Println(PromptSave)
		if _, err := l.Console.ReadLine(ctx); err != nil {
			return endOfInput(err)
		}
		if _, err := l.Sink.Save(); err != nil {
			logger.Debugw("save failed", "error", err)
			l.Console.Println("save failed:", err)
		} else {
			l.Console.Println(FramePrefix + fmt.Sprint(l.Sink.LastSavedIndex()-1))
		}

		l.Console.Println(PromptRepeat)
		text, err := l.Console.ReadLine(ctx)
		if err != nil {
			return endOfInput(err)
		}
		if strings.TrimSpace(text) == quit {
			return nil
		}
		l.command(text)
	}
}

func (l *Loop) snap(ctx context.Context) error {
	id, err := l.Engine.Snap(ctx)
	if err != nil {
		return err
	}
	waitCtx := ctx
	if l.SnapTimeout > 0 {
		var cancel func()
		waitCtx, cancel = context.WithTimeout(ctx, l.SnapTimeout)
		defer cancel()
	}
	_, err = l.Engine.Wait(waitCtx, id)
	return err
}

// command runs a registered command typed at the repeat prompt. Anything else just repeats.
func (l *Loop) command(text string) {
	if l.Registry == nil {
		return
	}
	cmd, err := framegrab.UnmarshalCommand(text)
	if err != nil {
		return
	}
	if cmd.Name == CommandHelp {
		for _, usage := range l.Registry.Help() {
			l.Console.Println(usage)
		}
		return
	}
	if !l.Registry.Has(cmd.Name) {
		return
	}
	resp, err := l.Registry.Process(cmd)
	if err != nil {
		l.Console.Println(cmd.Name, "failed:", err)
		return
	}
	if text := resp.Text(); text != "" {
		l.Console.Println(text)
	}
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
