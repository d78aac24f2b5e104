// Package transfer moves frames from an acquisition source into a buffer pool on request
// and notifies a subscriber when a frame has arrived.
package transfer

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
)

var (
	// ErrNoObserver happens when an engine is created without an end-of-frame subscription.
	ErrNoObserver = errors.New("no end-of-frame subscription")
	// ErrAlreadySubscribed happens when an event already has a subscription.
	ErrAlreadySubscribed = errors.New("event already subscribed")
	// ErrSourceInactive happens when an engine is created over a source that is not active.
	ErrSourceInactive = errors.New("source not active")
	// ErrPoolInactive happens when an engine is created over a pool that is not created.
	ErrPoolInactive = errors.New("buffer pool not active")
	// ErrNotIdle happens when a snap is requested from an engine that is not created.
	ErrNotIdle = errors.New("transfer engine not idle")
	// ErrTransferInProgress happens when a snap is requested while another is outstanding.
	ErrTransferInProgress = errors.New("transfer in progress")
	// ErrAlreadyCreated happens when a created engine is created again.
	ErrAlreadyCreated = errors.New("transfer engine already created")
)

// A State is a state of an engine.
type State int

// The engine states. An engine starts Unbound.
const (
	Unbound State = iota
	Created
	Idle
	Transferring
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Created:
		return "created"
	case Idle:
		return "idle"
	case Transferring:
		return "transferring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// An EventType is a kind of event an engine raises.
type EventType int

// EventEndOfFrame is raised once a frame has been written into the pool.
const EventEndOfFrame EventType = 1

// A Notification describes the outcome of one transfer.
type Notification struct {
	ID    string
	Event EventType
	// Context is the value registered with the subscription.
	Context interface{}
	// Index is the pool buffer the frame was written to.
	Index int
	Time  time.Time
	Err   error
}

// A Handler receives end-of-frame notifications on the engine's transfer goroutine.
type Handler func(n Notification)

// A Pool receives the frames an engine transfers.
type Pool interface {
	Active() bool
	Write(img image.Image) (int, error)
}

type subscription struct {
	handler Handler
	context interface{}
}

// An Engine binds a source to a pool. At most one transfer is outstanding at any time.
type Engine struct {
	mu     sync.Mutex
	source acquisition.Source
	pool   Pool
	state  State
	logger golog.Logger

	subMu sync.RWMutex
	subs  map[EventType]subscription

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	trigger                 chan string
	done                    chan Notification
}

// New returns an unbound engine between source and pool.
func New(source acquisition.Source, pool Pool, logger golog.Logger) *Engine {
	return &Engine{
		source: source,
		pool:   pool,
		logger: logger.Named("transfer"),
		subs:   map[EventType]subscription{},
	}
}

// Subscribe registers the handler for an event. The value is handed back as the context
// of every notification. Each event takes a single subscription.
func (e *Engine) Subscribe(event EventType, handler Handler, value interface{}) error {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if _, ok := e.subs[event]; ok {
		return ErrAlreadySubscribed
	}
	e.subs[event] = subscription{handler: handler, context: value}
	return nil
}

// Unsubscribe removes the subscription of an event. Once it returns the handler is not
// running and will not be called again.
func (e *Engine) Unsubscribe(event EventType) {
	e.subMu.Lock()
	delete(e.subs, event)
	e.subMu.Unlock()
}

func (e *Engine) subscribed(event EventType) bool {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	_, ok := e.subs[event]
	return ok
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Create binds the source and pool and starts the transfer goroutine.
func (e *Engine) Create(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Unbound {
		return ErrAlreadyCreated
	}
	if !e.subscribed(EventEndOfFrame) {
		return ErrNoObserver
	}
	if e.source == nil || !e.source.Active() {
		return ErrSourceInactive
	}
	if e.pool == nil || !e.pool.Active() {
		return ErrPoolInactive
	}
	e.state = Created
	e.cancelCtx, e.cancel = context.WithCancel(context.Background())
	e.trigger = make(chan string, 1)
	e.done = make(chan Notification, 1)
	e.start(e.cancelCtx, e.trigger, e.done)
	e.state = Idle
	e.logger.Debugw("created", "source", e.source.Label())
	return nil
}

func (e *Engine) start(ctx context.Context, trigger <-chan string, done chan Notification) {
	e.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-trigger:
				n := e.transfer(ctx, id)

				e.mu.Lock()
				if e.state == Transferring {
					e.state = Idle
				}
				e.mu.Unlock()

				// only the latest outcome is kept for a waiter
				select {
				case <-done:
				default:
				}
				done <- n
			}
		}
	}, e.activeBackgroundWorkers.Done)
}

func (e *Engine) transfer(ctx context.Context, id string) Notification {
	n := Notification{ID: id, Event: EventEndOfFrame}
	img, release, err := e.source.Read(ctx)
	if err == nil {
		n.Index, err = e.pool.Write(img)
		release()
	}
	n.Time = time.Now()
	if err != nil {
		n.Err = &framegrab.TransferError{ID: id, Err: err}
		e.logger.Debugw("transfer failed", "id", id, "error", err)
		return n
	}

	e.subMu.RLock()
	defer e.subMu.RUnlock()
	sub, ok := e.subs[EventEndOfFrame]
	if !ok {
		e.logger.Debugw("discarding end of frame without subscription", "id", id)
		return n
	}
	n.Context = sub.context
	sub.handler(n)
	return n
}

// Snap requests the transfer of one frame and returns without waiting for it. The
// returned id identifies the transfer's notification.
func (e *Engine) Snap(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Idle:
	case Transferring:
		return "", &framegrab.TransferError{Err: ErrTransferInProgress}
	default:
		return "", &framegrab.TransferError{Err: errors.Wrap(ErrNotIdle, e.state.String())}
	}
	id := uuid.NewString()
	e.state = Transferring
	e.trigger <- id
	e.logger.Debugw("snap", "id", id)
	return id, nil
}

// Wait blocks until the notification of the transfer id arrives. Notifications of other
// transfers are discarded.
func (e *Engine) Wait(ctx context.Context, id string) (Notification, error) {
	e.mu.Lock()
	done, cancelCtx := e.done, e.cancelCtx
	e.mu.Unlock()
	if done == nil {
		return Notification{}, &framegrab.TransferError{ID: id, Err: ErrNotIdle}
	}
	for {
		select {
		case <-ctx.Done():
			return Notification{}, &framegrab.TransferError{ID: id, Err: ctx.Err()}
		case <-cancelCtx.Done():
			return Notification{}, &framegrab.TransferError{ID: id, Err: cancelCtx.Err()}
		case n := <-done:
			if n.ID != id {
				e.logger.Debugw("discarding stale notification", "id", n.ID, "want", id)
				continue
			}
			return n, n.Err
		}
	}
}

// SnapAndWait requests one frame and waits for it to arrive.
func (e *Engine) SnapAndWait(ctx context.Context) (Notification, error) {
	id, err := e.Snap(ctx)
	if err != nil {
		return Notification{}, err
	}
	return e.Wait(ctx, id)
}

// Destroy unregisters every subscription, then stops the transfer goroutine, waiting for an
// outstanding transfer to end. It does nothing on an unbound engine.
func (e *Engine) Destroy(ctx context.Context) error {
	e.subMu.Lock()
	e.subs = map[EventType]subscription{}
	e.subMu.Unlock()

	e.mu.Lock()
	if e.state == Unbound {
		e.mu.Unlock()
		return nil
	}
	outstanding := e.state == Transferring
	e.cancel()
	e.mu.Unlock()

	if outstanding {
		e.logger.Debug("waiting for outstanding transfer")
	}
	stopped := make(chan struct{})
	utils.PanicCapturingGo(func() {
		e.activeBackgroundWorkers.Wait()
		close(stopped)
	})
	select {
	case <-stopped:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for outstanding transfer")
	}

	e.mu.Lock()
	e.state = Unbound
	e.done = nil
	e.trigger = nil
	e.mu.Unlock()
	e.logger.Debug("destroyed")
	return nil
}
