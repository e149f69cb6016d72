package isul

import (
	"context"
	"sync"
	"weak"
)

// Delegate is implemented by the host application to control the activation
// workflow and receive its results.
//
// Hosts usually embed BaseDelegate and implement only GetContentView, which
// has no default.
type Delegate interface {
	// GetContentView returns the platform container the sign-in surface is
	// rendered into (HWND on Windows, NSView* on macOS, any value a custom
	// SignInPresenter understands elsewhere).
	GetContentView() any

	// ShouldStartActivation is asked once, before any sign-in UI is shown,
	// with the status that made activation necessary.
	ShouldStartActivation(status Status) bool

	// OnValidationFinished receives the final status of every Validate call.
	OnValidationFinished(status Status)

	// OnServerLog receives a line for each request sent to and response
	// received from the license service.
	OnServerLog(status ServerStatus, severity LogSeverity, message, content string)

	// OnFallback is called when the user picks the legacy activation method
	// in the sign-in surface; the host handles that flow itself.
	OnFallback()
}

// BaseDelegate provides the default behaviour of the optional Delegate hooks:
// activation is allowed and notifications are ignored.
type BaseDelegate struct{}

func (BaseDelegate) ShouldStartActivation(Status) bool                      { return true }
func (BaseDelegate) OnValidationFinished(Status)                            {}
func (BaseDelegate) OnServerLog(ServerStatus, LogSeverity, string, string) {}
func (BaseDelegate) OnFallback()                                            {}

// Liveness is implemented by delegates that can outlive the host UI they
// belong to. The Manager drops callbacks once Alive reports false.
type Liveness interface {
	Alive() bool
}

// WeakDelegate wraps d in a non-owning reference. The Manager does not keep d
// reachable; once the host releases it, callbacks are dropped and
// ShouldStartActivation answers false.
func WeakDelegate[T any, P interface {
	*T
	Delegate
}](d P) Delegate {
	return &weakDelegate[T, P]{ptr: weak.Make((*T)(d))}
}

type weakDelegate[T any, P interface {
	*T
	Delegate
}] struct {
	ptr weak.Pointer[T]
}

func (w *weakDelegate[T, P]) target() Delegate {
	if v := w.ptr.Value(); v != nil {
		return P(v)
	}
	return nil
}

func (w *weakDelegate[T, P]) Alive() bool {
	return w.ptr.Value() != nil
}

func (w *weakDelegate[T, P]) GetContentView() any {
	if d := w.target(); d != nil {
		return d.GetContentView()
	}
	return nil
}

func (w *weakDelegate[T, P]) ShouldStartActivation(status Status) bool {
	if d := w.target(); d != nil {
		return d.ShouldStartActivation(status)
	}
	return false
}

func (w *weakDelegate[T, P]) OnValidationFinished(status Status) {
	if d := w.target(); d != nil {
		d.OnValidationFinished(status)
	}
}

func (w *weakDelegate[T, P]) OnServerLog(status ServerStatus, severity LogSeverity, message, content string) {
	if d := w.target(); d != nil {
		d.OnServerLog(status, severity, message, content)
	}
}

func (w *weakDelegate[T, P]) OnFallback() {
	if d := w.target(); d != nil {
		d.OnFallback()
	}
}

func delegateAlive(d Delegate) bool {
	if d == nil {
		return false
	}
	if l, ok := d.(Liveness); ok {
		return l.Alive()
	}
	return true
}

// Dispatcher runs delegate callbacks on the thread that owns the content view.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function, such as a UI toolkit's "run on main
// thread" primitive, to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// serialDispatcher runs callbacks one at a time, in order, on its own goroutine.
type serialDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSerialDispatcher() *serialDispatcher {
	d := &serialDispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *serialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *serialDispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			fn()
		}
	}
}

// Close drains queued callbacks and stops the goroutine.
func (d *serialDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

// dispatchSync runs fn through the dispatcher and waits for it, or for ctx.
func dispatchSync[T any](ctx context.Context, dispatcher Dispatcher, fn func() T) (T, error) {
	result := make(chan T, 1)
	dispatcher.Dispatch(func() { result <- fn() })
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
