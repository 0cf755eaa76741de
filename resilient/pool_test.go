package resilient_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/resilient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaseTracker records the peak number of concurrent invocations.
type leaseTracker struct {
	active int64
	peak   int64
	closed int64
}

func (l *leaseTracker) CallTool(_ context.Context, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
	cur := atomic.AddInt64(&l.active, 1)
	for {
		peak := atomic.LoadInt64(&l.peak)
		if cur <= peak || atomic.CompareAndSwapInt64(&l.peak, peak, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt64(&l.active, -1)
	return &mcp.CallToolResult{}, nil
}

func (l *leaseTracker) Close() error {
	atomic.AddInt64(&l.closed, 1)
	return nil
}

func TestPoolCapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	tracker := &leaseTracker{}
	pool, err := resilient.NewPool(ctx, 2, func(context.Context) (resilient.Caller, error) {
		return tracker, nil
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, 2, pool.Idle())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.CallTool(ctx, "echo", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&tracker.peak), int64(2))
	assert.Equal(t, 2, pool.Idle())
}

func TestPoolWaitersServedInArrivalOrder(t *testing.T) {
	ctx := context.Background()

	started := make(chan int, 16)
	proceed := make(chan struct{})
	inner := resilient.CallerFunc(func(_ context.Context, _ string, args map[string]any) (*mcp.CallToolResult, error) {
		started <- args["id"].(int)
		<-proceed
		return &mcp.CallToolResult{}, nil
	})

	pool, err := resilient.NewPool(ctx, 1, func(context.Context) (resilient.Caller, error) {
		return inner, nil
	})
	require.NoError(t, err)
	defer pool.Close()

	var wg sync.WaitGroup
	call := func(id int) {
		defer wg.Done()
		_, err := pool.CallTool(ctx, "echo", map[string]any{"id": id})
		assert.NoError(t, err)
	}

	// Occupy the only slot and hold it.
	wg.Add(1)
	go call(0)
	order := []int{<-started}

	// Queue further callers one at a time, letting each park on the
	// slot channel before the next arrives.
	const waiters = 5
	for id := 1; id <= waiters; id++ {
		wg.Add(1)
		go call(id)
		time.Sleep(20 * time.Millisecond)
	}

	// Free the slot one call at a time; the longest waiter gets it.
	for i := 0; i < waiters; i++ {
		proceed <- struct{}{}
		order = append(order, <-started)
	}
	proceed <- struct{}{}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestPoolReleasesOnFailure(t *testing.T) {
	ctx := context.Background()
	failing := resilient.CallerFunc(func(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
		return nil, errors.New("boom")
	})
	pool, err := resilient.NewPool(ctx, 1, func(context.Context) (resilient.Caller, error) {
		return failing, nil
	})
	require.NoError(t, err)
	defer pool.Close()

	// a failed call must still return its slot
	for i := 0; i < 3; i++ {
		_, err := pool.CallTool(ctx, "echo", nil)
		require.Error(t, err)
	}
	assert.Equal(t, 1, pool.Idle())
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	slow := resilient.CallerFunc(func(ctx context.Context, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
		<-block
		return &mcp.CallToolResult{}, nil
	})
	pool, err := resilient.NewPool(ctx, 1, func(context.Context) (resilient.Caller, error) {
		return slow, nil
	})
	require.NoError(t, err)
	defer pool.Close()
	defer close(block)

	go func() {
		_, _ = pool.CallTool(ctx, "slow", nil)
	}()
	require.Eventually(t, func() bool { return pool.Idle() == 0 }, time.Second, time.Millisecond)

	// the only slot is leased; a bounded waiter gives up
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = pool.CallTool(waitCtx, "echo", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolConstructionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	tracker := &leaseTracker{}
	var built int
	_, err := resilient.NewPool(ctx, 3, func(context.Context) (resilient.Caller, error) {
		if built == 2 {
			return nil, errors.New("spawn failed")
		}
		built++
		return tracker, nil
	})
	require.ErrorContains(t, err, "spawn failed")
	// sessions opened before the failure were closed
	assert.EqualValues(t, 2, atomic.LoadInt64(&tracker.closed))
}

func TestPoolClose(t *testing.T) {
	ctx := context.Background()
	tracker := &leaseTracker{}
	pool, err := resilient.NewPool(ctx, 2, func(context.Context) (resilient.Caller, error) {
		return tracker, nil
	})
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.EqualValues(t, 2, atomic.LoadInt64(&tracker.closed))

	_, err = pool.CallTool(ctx, "echo", nil)
	require.ErrorContains(t, err, "pool is closed")
}

func TestPoolInvalidSize(t *testing.T) {
	_, err := resilient.NewPool(context.Background(), 0, func(context.Context) (resilient.Caller, error) {
		return &leaseTracker{}, nil
	})
	require.Error(t, err)
}
