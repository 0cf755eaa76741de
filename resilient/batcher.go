package resilient

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/effective-security/toolbridge/pkg/metricskey"
)

const (
	// DefaultBatchSize flushes a batch when this many calls are pending.
	DefaultBatchSize = 8
	// DefaultBatchWindow flushes a batch this long after its first call,
	// whether or not the size threshold was reached.
	DefaultBatchWindow = 25 * time.Millisecond
)

// BatchKeyFunc groups calls into batches. Calls with equal keys are
// dispatched together.
type BatchKeyFunc func(name string, args map[string]any) string

// BatcherOptions configures the batching decorator.
type BatcherOptions struct {
	// Size is the pending-call count that flushes a batch immediately.
	Size int
	// Window is the maximum time the first call in a batch waits before
	// the batch is flushed regardless of size.
	Window time.Duration
	// Key groups calls into batches; the default groups by tool name.
	Key BatchKeyFunc
}

type batchResult struct {
	result *mcp.CallToolResult
	err    error
}

type batchEntry struct {
	name string
	args map[string]any
	done chan batchResult
}

type batch struct {
	entries []*batchEntry
	timer   *time.Timer
}

type batchingCaller struct {
	next   Caller
	size   int
	window time.Duration
	key    BatchKeyFunc

	mu      sync.Mutex
	pending map[string]*batch
}

// WithBatcher wraps the caller with a request batcher. Calls sharing a
// batch key accumulate until either Size calls are pending or Window has
// elapsed since the first, then the whole batch is dispatched at once and
// each caller receives its own result. If the channel breaks while a
// batch is in flight, every member of that batch fails.
func WithBatcher(next Caller, opts BatcherOptions) Caller {
	if opts.Size <= 0 {
		opts.Size = DefaultBatchSize
	}
	if opts.Window <= 0 {
		opts.Window = DefaultBatchWindow
	}
	if opts.Key == nil {
		opts.Key = func(name string, _ map[string]any) string { return name }
	}
	return &batchingCaller{
		next:    next,
		size:    opts.Size,
		window:  opts.Window,
		key:     opts.Key,
		pending: map[string]*batch{},
	}
}

func (b *batchingCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	entry := &batchEntry{
		name: name,
		args: args,
		done: make(chan batchResult, 1),
	}
	key := b.key(name, args)

	b.mu.Lock()
	bat := b.pending[key]
	if bat == nil {
		bat = &batch{}
		b.pending[key] = bat
		bat.timer = time.AfterFunc(b.window, func() {
			b.flush(key, bat)
		})
	}
	bat.entries = append(bat.entries, entry)
	full := len(bat.entries) >= b.size
	b.mu.Unlock()

	if full {
		b.flush(key, bat)
	}

	select {
	case res := <-entry.done:
		return res.result, res.err
	case <-ctx.Done():
		// the batch still dispatches; this caller just stops waiting
		return nil, errors.WithStack(ctx.Err())
	}
}

// flush removes the batch from the pending set and dispatches its members
// together. Size-triggered and timer-triggered flushes can race; only the
// one that finds the batch still pending dispatches it.
func (b *batchingCaller) flush(key string, bat *batch) {
	b.mu.Lock()
	if b.pending[key] != bat {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	bat.timer.Stop()
	entries := bat.entries
	b.mu.Unlock()

	metricskey.StatsBatchesDispatched.IncrCounter(1, key)

	results := make([]batchResult, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry *batchEntry) {
			defer wg.Done()
			result, err := b.next.CallTool(context.Background(), entry.name, entry.args)
			results[i] = batchResult{result: result, err: err}
		}(i, entry)
	}
	wg.Wait()

	// a broken channel fails the whole batch, members that happened to
	// complete first included
	var batchErr error
	for _, res := range results {
		var connErr *transport.ConnectionError
		if res.err != nil && errors.As(res.err, &connErr) {
			batchErr = res.err
			break
		}
	}

	for i, entry := range entries {
		if batchErr != nil {
			entry.done <- batchResult{err: batchErr}
			continue
		}
		entry.done <- results[i]
	}
}
