// Package main runs the grab console: it opens an acquisition source, then snaps and saves
// frames on operator request.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	// register video drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/ccf"
	"github.com/edaniels/framegrab/config"
	"github.com/edaniels/framegrab/console"
	"github.com/edaniels/framegrab/pipeline"
	"github.com/edaniels/framegrab/resource"
	"github.com/edaniels/framegrab/sim"
	"github.com/edaniels/framegrab/sink"
	"github.com/edaniels/framegrab/view"
)

var logger = framegrab.Logger.Named("grabconsole")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := mainWithArgs(ctx, os.Args, logger)
	stop()
	if err != nil {
		logger.Errorw("grab console failed", "error", err)
		os.Exit(framegrab.ExitCode(err))
	}
}

// Arguments for the command.
type Arguments struct {
	Server      string              `flag:"0,usage=acquisition server name"`
	Index       string              `flag:"1,usage=resource index"`
	CCF         string              `flag:"2,usage=CCF configuration file"`
	Settings    string              `flag:"settings,usage=YAML settings file"`
	Output      string              `flag:"output,usage=file frames are saved to"`
	Format      string              `flag:"format,usage=save format (raw png jpeg tiff bmp)"`
	Retain      bool                `flag:"retain,usage=save every frame under its own name"`
	Quit        string              `flag:"quit,usage=token that ends the loop"`
	SnapTimeout string              `flag:"snap_timeout,usage=maximum wait for a frame"`
	Terminal    bool                `flag:"terminal,usage=draw frames on the terminal"`
	Preview     string              `flag:"preview,usage=write a preview image of every frame"`
	Stats       bool                `flag:"stats,usage=log frame statistics"`
	Port        goutils.NetPortFlag `flag:"port,usage=port of the frame viewer"`
	Simulate    bool                `flag:"simulate,usage=register the simulated devices"`
	List        bool                `flag:"list,usage=list acquisition servers and exit"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return &framegrab.ConfigError{Err: err}
	}
	settings, err := loadSettings(argsParsed)
	if err != nil {
		return err
	}
	if settings.Simulate {
		if err := sim.Register(); err != nil {
			return &framegrab.ConfigError{Err: errors.Wrap(err, "registering simulated devices")}
		}
	}
	dir := resource.NewDriverDirectory()

	if argsParsed.List {
		return list(console.New(os.Stdin, os.Stdout), dir)
	}

	cons := console.New(os.Stdin, os.Stdout)
	if settings.Server == "" {
		opts, err := cons.AskOptions(ctx, dir)
		if err != nil {
			return &framegrab.ConfigError{Err: err}
		}
		settings.Server, settings.Index, settings.CCF = opts.ServerName, opts.ResourceIndex, opts.ConfigPath
	}
	return runConsole(ctx, cons, dir, settings, logger)
}

// loadSettings merges the settings file with the command line, which wins.
func loadSettings(args Arguments) (*config.Settings, error) {
	settings := &config.Settings{}
	if args.Settings != "" {
		loaded, err := config.Load(args.Settings)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	fromArgs := config.Settings{
		Server:   args.Server,
		CCF:      args.CCF,
		Simulate: args.Simulate,
		Output:   config.OutputSettings{Name: args.Output, Format: args.Format, Retain: args.Retain},
		Console:  config.ConsoleSettings{QuitToken: args.Quit},
		Display: config.DisplaySettings{
			Terminal:   args.Terminal,
			Preview:    args.Preview,
			Stats:      args.Stats,
			ViewerPort: int(args.Port),
		},
	}
	index := -1
	if args.Index != "" {
		var err error
		if index, err = strconv.Atoi(args.Index); err != nil {
			return nil, &framegrab.ConfigError{Err: errors.Wrap(err, "resource index")}
		}
	}
	if args.SnapTimeout != "" {
		timeout, err := time.ParseDuration(args.SnapTimeout)
		if err != nil {
			return nil, &framegrab.ConfigError{Err: errors.Wrap(err, "snap timeout")}
		}
		fromArgs.Console.SnapTimeout = timeout
	}
	settings.Merge(fromArgs)
	// zero is a valid index, so a given positional always wins
	if args.Index != "" {
		settings.Index = index
	}
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func list(cons *console.Console, dir resource.Directory) error {
	for _, server := range dir.Servers() {
		acq, err := dir.ResourceCount(server, resource.Acquisition)
		if err != nil {
			return err
		}
		dev, err := dir.ResourceCount(server, resource.AcqDevice)
		if err != nil {
			return err
		}
		cons.Printf("%s\t%s: %d\t%s: %d\n", server, resource.Acquisition, acq, resource.AcqDevice, dev)
	}
	return nil
}

func displays(settings *config.Settings, logger golog.Logger) []sink.Display {
	var all []sink.Display
	if settings.Display.Terminal {
		all = append(all, sink.NewTerminalDisplay(os.Stderr, settings.Display.TerminalWidth, settings.Display.TerminalHeight))
	}
	if settings.Display.Preview != "" {
		all = append(all, sink.NewPreviewDisplay(settings.Display.Preview))
	}
	if settings.Display.Stats {
		all = append(all, sink.NewStatsDisplay(logger))
	}
	if settings.Display.ViewerPort != 0 {
		all = append(all, view.NewServer(settings.Display.ViewerPort, settings.Server, logger))
	}
	return all
}

func runConsole(
	ctx context.Context,
	cons *console.Console,
	dir resource.Directory,
	settings *config.Settings,
	logger golog.Logger,
) (err error) {
	blob, err := ccf.Load(settings.CCF)
	if err != nil {
		return &framegrab.ConfigError{Err: err}
	}
	cfg, err := framegrab.NewConfiguration(settings.Server, settings.Index, blob)
	if err != nil {
		return err
	}
	poolOpts, err := settings.PoolOptions()
	if err != nil {
		return err
	}

	p, err := pipeline.Build(ctx, cfg, dir, pipeline.Options{
		Pool: poolOpts,
		Sink: sink.Options{
			Displays: displays(settings, logger),
			Name:     settings.Output.Name,
			Format:   settings.Output.Format,
			Retain:   settings.Output.Retain,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		// teardown outlives an interrupted run
		err = multierr.Combine(err, p.Teardown(context.Background()))
	}()

	registry := framegrab.NewCommandRegistry()
	if ctrl, ok := p.Source.Controls(); ok {
		console.AddControlCommands(registry, ctrl)
	}
	logger.Infow("ready",
		"server", cfg.ServerName(),
		"index", cfg.ResourceIndex(),
		"ccf", blob.Name,
		"output", p.Sink.Name(),
	)

	loop := &console.Loop{
		Console:     cons,
		Engine:      p.Engine,
		Sink:        p.Sink,
		QuitToken:   settings.Console.QuitToken,
		SnapTimeout: settings.Console.SnapTimeout,
		Registry:    registry,
		Logger:      logger,
	}
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infow("done", "frames_saved", p.Sink.LastSavedIndex())
	return nil
}
