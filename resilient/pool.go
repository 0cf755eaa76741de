package resilient

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
)

// Pool is a fixed-capacity set of sessions shared by concurrent callers.
// An invocation leases one session for its duration; when all slots are
// leased, callers suspend until one is released, served in arrival order.
// Capacity is never exceeded.
type Pool struct {
	slots chan Caller

	mu     sync.Mutex
	all    []Caller
	closed bool
}

// NewPool builds a pool of size sessions using the factory. Construction
// is all-or-nothing: if any session fails to open, the ones already
// opened are closed and the error is returned.
func NewPool(ctx context.Context, size int, factory func(ctx context.Context) (Caller, error)) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	p := &Pool{
		slots: make(chan Caller, size),
	}
	for i := 0; i < size; i++ {
		caller, err := factory(ctx)
		if err != nil {
			_ = p.Close()
			return nil, errors.WithMessagef(err, "failed to open pooled session %d", i)
		}
		p.all = append(p.all, caller)
		p.slots <- caller
	}
	return p, nil
}

// acquire leases a slot, suspending until one is free. Waiters queued on
// the channel are released in FIFO order.
func (p *Pool) acquire(ctx context.Context) (Caller, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.New("pool is closed")
	}
	select {
	case caller := <-p.slots:
		return caller, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (p *Pool) release(caller Caller) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.slots <- caller
}

// CallTool leases a session, invokes the tool on it and releases the
// session on every exit path.
func (p *Pool) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	caller, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(caller)
	return caller.CallTool(ctx, name, args)
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Idle returns the number of currently unleased slots.
func (p *Pool) Idle() int {
	return len(p.slots)
}

// Close shuts down every session in the pool. In-flight leases finish
// their current call; subsequent calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := p.all
	p.mu.Unlock()

	var errs error
	for _, caller := range all {
		if closer, ok := caller.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = errors.CombineErrors(errs, err)
			}
		}
	}
	return errs
}
