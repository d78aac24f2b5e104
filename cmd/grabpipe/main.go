// Package main drives a grab console through its standard input and output and logs
// statistics of every grabbed frame.
package main

import (
	"context"
	"strconv"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/pipe"
	"github.com/edaniels/framegrab/sink"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

var (
	defaultConsole = "grabconsole"
	defaultGrabs   = 10
	logger         = framegrab.Logger.Named("grabpipe")
)

// Arguments for the command.
type Arguments struct {
	Server   string `flag:"0,usage=acquisition server name"`
	Index    string `flag:"1,usage=resource index"`
	CCF      string `flag:"2,usage=CCF configuration file"`
	Console  string `flag:"console,usage=path of the grab console program"`
	Output   string `flag:"output,usage=file the console saves frames to"`
	Grabs    int    `flag:"grabs,usage=number of frames to grab"`
	Gain     int    `flag:"gain,usage=gain applied before grabbing"`
	Simulate bool   `flag:"simulate,usage=use the simulated devices"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Server == "" || argsParsed.CCF == "" {
		return errors.New("usage: grabpipe <server> <index> <ccf>")
	}
	if argsParsed.Console == "" {
		argsParsed.Console = defaultConsole
	}
	if argsParsed.Output == "" {
		argsParsed.Output = sink.DefaultName
	}
	if argsParsed.Grabs == 0 {
		argsParsed.Grabs = defaultGrabs
	}
	if _, err := strconv.Atoi(argsParsed.Index); err != nil {
		return errors.Wrap(err, "resource index")
	}
	return runGrabs(ctx, argsParsed, logger)
}

func runGrabs(ctx context.Context, args Arguments, logger golog.Logger) (err error) {
	blob, err := ccf.Load(args.CCF)
	if err != nil {
		return err
	}

	// flags go before the positionals
	consoleArgs := []string{"--output", args.Output}
	if args.Simulate {
		consoleArgs = append(consoleArgs, "--simulate")
	}
	consoleArgs = append(consoleArgs, args.Server, args.Index, args.CCF)
	client, err := pipe.Start(ctx, args.Console, consoleArgs, pipe.Options{
		Pixels:   blob.Pixels(),
		DataPath: args.Output,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, client.Close(context.Background()))
	}()

	if args.Gain != 0 {
		client.SetGain(args.Gain)
	}
	for i := 0; i < args.Grabs; i++ {
		data, frameNum, err := client.Grab(ctx)
		if err != nil {
			if errors.Is(err, pipe.ErrSnapFailed) || errors.Is(err, pipe.ErrSaveFailed) {
				logger.Warnw("grab failed", "grab", i, "error", err)
				continue
			}
			return err
		}
		stats := sink.Summarize(data)
		logger.Infow("grab",
			"grab", i,
			"frame", frameNum,
			"min", stats.Min,
			"max", stats.Max,
			"mean", stats.Mean,
		)
	}
	return nil
}
