// Package pipeline assembles an acquisition source, buffer pool, transfer engine and
// frame sink in a fixed order and tears them down in the reverse one.
package pipeline

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
	"github.com/edaniels/framegrab/buffer"
	"github.com/edaniels/framegrab/resource"
	"github.com/edaniels/framegrab/sink"
	"github.com/edaniels/framegrab/transfer"
)

// An Event is a lifecycle step of a stage.
type Event int

// Lifecycle steps reported to a Trace.
const (
	Constructed Event = iota + 1
	Created
	Destroyed
)

func (e Event) String() string {
	switch e {
	case Constructed:
		return "constructed"
	case Created:
		return "created"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Options configure the stages of a pipeline.
type Options struct {
	Pool buffer.Options
	Sink sink.Options
	// Trace, if set, is told about every lifecycle step in the order they happen.
	Trace func(stage framegrab.Stage, event Event)
}

// A Pipeline is a built set of stages. Stages that were never constructed are nil.
type Pipeline struct {
	mu       sync.Mutex
	Source   acquisition.Source
	Pool     *buffer.Pool
	Engine   *transfer.Engine
	Sink     *sink.Sink
	opts     Options
	torndown bool
	logger   golog.Logger
}

// Build resolves the configured source in dir and assembles a pipeline around it.
func Build(
	ctx context.Context,
	cfg framegrab.Configuration,
	dir resource.Directory,
	opts Options,
	logger golog.Logger,
) (*Pipeline, error) {
	src, err := resource.Resolve(dir, cfg, logger)
	if err != nil {
		return nil, err
	}
	return Assemble(ctx, src, opts, logger)
}

// Assemble creates src and then constructs and creates the pool, engine and sink in that
// order. If any stage fails, whatever was constructed is torn down and a
// *framegrab.CreateError naming the stage is returned.
func Assemble(ctx context.Context, src acquisition.Source, opts Options, logger golog.Logger) (*Pipeline, error) {
	p := &Pipeline{opts: opts, logger: logger.Named("pipeline")}
	if err := p.assemble(ctx, src); err != nil {
		if tearErr := p.Teardown(ctx); tearErr != nil {
			p.logger.Errorw("error tearing down after failed creation", "error", tearErr)
		}
		return nil, err
	}
	p.logger.Infow("pipeline ready", "source", src.Label(), "variant", src.Variant())
	return p, nil
}

func (p *Pipeline) trace(stage framegrab.Stage, event Event) {
	p.logger.Debugw("stage", "stage", stage, "event", event)
	if p.opts.Trace != nil {
		p.opts.Trace(stage, event)
	}
}

func (p *Pipeline) assemble(ctx context.Context, src acquisition.Source) error {
	p.Source = src
	p.trace(framegrab.StageSource, Constructed)
	if err := src.Create(ctx); err != nil {
		return &framegrab.CreateError{Stage: framegrab.StageSource, Err: err}
	}
	p.trace(framegrab.StageSource, Created)

	p.Pool = buffer.NewPool(src, p.opts.Pool, p.logger)
	p.trace(framegrab.StagePool, Constructed)
	if err := p.Pool.Create(ctx); err != nil {
		return &framegrab.CreateError{Stage: framegrab.StagePool, Err: err}
	}
	p.trace(framegrab.StagePool, Created)

	// the sink has to be subscribed before the engine may be created
	p.Engine = transfer.New(src, p.Pool, p.logger)
	p.trace(framegrab.StageEngine, Constructed)
	p.Sink = sink.New(p.Pool, p.opts.Sink, p.logger)
	p.trace(framegrab.StageSink, Constructed)
	if err := p.Engine.Subscribe(transfer.EventEndOfFrame, p.Sink.HandleEndOfFrame, p.Sink); err != nil {
		return &framegrab.CreateError{Stage: framegrab.StageEngine, Err: err}
	}
	if err := p.Engine.Create(ctx); err != nil {
		return &framegrab.CreateError{Stage: framegrab.StageEngine, Err: err}
	}
	p.trace(framegrab.StageEngine, Created)

	if err := p.Sink.Create(ctx); err != nil {
		return &framegrab.CreateError{Stage: framegrab.StageSink, Err: err}
	}
	p.trace(framegrab.StageSink, Created)
	return nil
}

// Teardown destroys every constructed stage in the order sink, engine, pool, source.
// The sink's subscription is removed before the sink goes away. Calling Teardown again
// does nothing.
func (p *Pipeline) Teardown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.torndown {
		return nil
	}
	p.torndown = true

	var err error
	if p.Sink != nil {
		if p.Engine != nil {
			p.Engine.Unsubscribe(transfer.EventEndOfFrame)
		}
		err = multierr.Append(err, p.Sink.Destroy(ctx))
		p.trace(framegrab.StageSink, Destroyed)
	}
	if p.Engine != nil {
		err = multierr.Append(err, p.Engine.Destroy(ctx))
		p.trace(framegrab.StageEngine, Destroyed)
	}
	if p.Pool != nil {
		err = multierr.Append(err, p.Pool.Destroy(ctx))
		p.trace(framegrab.StagePool, Destroyed)
	}
	if p.Source != nil {
		err = multierr.Append(err, p.Source.Destroy(ctx))
		p.trace(framegrab.StageSource, Destroyed)
	}
	return err
}
