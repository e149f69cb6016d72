package isul

import (
	"context"
	"sync"
)

// Pending is the asynchronous result of Validate or Deactivate.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	status Status
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(st Status) {
	p.once.Do(func() {
		p.status = st
		close(p.done)
	})
}

// Done is closed once the operation has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Status returns the final status. Before Done is closed it reports an
// InternalError describing the operation as still running.
func (p *Pending) Status() Status {
	select {
	case <-p.done:
		return p.status
	default:
		return NewStatus(InternalError, "operation still in progress")
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		return p.status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}
